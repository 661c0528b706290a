package broker

import (
	"github.com/zllovesuki/stripemirror/spec"
)

// Producer defines a producer sending notifications and tasks via message broker
type Producer interface {
	Close()
	SendNotification(n *spec.Notification) error
	SendTask(t *spec.Task) error
}
