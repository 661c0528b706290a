package spec

import "encoding/json"

type TaskType string

const (
	// DispatchTask asks a worker to validate and process a recorded event
	DispatchTask TaskType = "dispatch"
)

// ProcessingErrorNotification is the kind broadcast when handling an event fails
const ProcessingErrorNotification = "webhook_processing_error"

// ReceiptNotification asks the mailer to deliver a charge receipt. EventID
// carries the charge ID.
const ReceiptNotification = "charge.receipt"

// Notification is broadcast after an event was handled. Kind is the event
// type on success, or ProcessingErrorNotification on failure.
type Notification struct {
	Kind    string          `json:"kind"`
	EventID string          `json:"eventId"`
	Data    json.RawMessage `json:"data"`
}

// Task is a unit of work handed to workers
type Task struct {
	Type    TaskType `json:"type"`
	EventID string   `json:"eventId"`
}
