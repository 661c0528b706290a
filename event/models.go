package event

import (
	"strings"
	"time"

	"github.com/zllovesuki/stripemirror/external"

	"gorm.io/datatypes"
)

// Event is a webhook delivery as received. Valid is nil until the event was
// checked against the provider.
type Event struct {
	ID             string         `json:"id" gorm:"primaryKey"` // Corresponds to Stripe's event ID
	Type           string         `json:"type" gorm:"index"`
	Livemode       bool           `json:"livemode"`
	CustomerID     *string        `json:"customerId" gorm:"index"`
	WebhookMessage datatypes.JSON `json:"webhookMessage"`
	Valid          *bool          `json:"valid"`
	Processed      bool           `json:"processed" gorm:"index"`
	Attempts       int            `json:"attempts" gorm:"not null;default:0"` // Failed processing attempts
	ClaimToken     *string        `json:"-"`
	ClaimedAt      *time.Time     `json:"-"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// EventProcessingException records a failure to handle an event. Rows are
// append only.
type EventProcessingException struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	EventID   *string        `json:"eventId" gorm:"index"`
	Data      datatypes.JSON `json:"data"` // Error body returned by the provider, if any
	Message   string         `json:"message"`
	Traceback string         `json:"traceback"`
	CreatedAt time.Time      `json:"createdAt"`
}

// IsValid reports whether the event was confirmed by the provider
func (e *Event) IsValid() bool {
	return e.Valid != nil && *e.Valid
}

// Message returns the webhook payload, but only for confirmed events
func (e *Event) Message() external.Object {
	if !e.IsValid() {
		return nil
	}
	return e.message()
}

func (e *Event) message() external.Object {
	obj, err := external.DecodeObject(e.WebhookMessage)
	if err != nil {
		return nil
	}
	return obj
}

// Data returns the object the event is about, i.e. data.object
func (e *Event) Data() external.Object {
	return e.Message().Object("data").Object("object")
}

// PreviousAttributes returns data.previous_attributes of a confirmed
// *.updated event: the fields that changed and their old values
func (e *Event) PreviousAttributes() external.Object {
	return e.Message().Object("data").Object("previous_attributes")
}

// Category is the part of Type before the first dot
func (e *Event) Category() string {
	category, _ := splitType(e.Type)
	return category
}

// Subtype is the part of Type after the first dot
func (e *Event) Subtype() string {
	_, subtype := splitType(e.Type)
	return subtype
}

func splitType(t string) (string, string) {
	if i := strings.Index(t, "."); i >= 0 {
		return t[:i], t[i+1:]
	}
	return t, ""
}
