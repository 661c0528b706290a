package broker

import (
	"context"

	"github.com/zllovesuki/stripemirror/spec"
)

// Consumer defines a consumer receiving tasks and notifications via message broker
type Consumer interface {
	Close()
	ReceiveTasks(ctx context.Context, taskType spec.TaskType) (<-chan *spec.Task, error)
	ReceiveNotifications(ctx context.Context, kind string) (<-chan *spec.Notification, error)
}
