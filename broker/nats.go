package broker

import (
	"context"

	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"

	"github.com/nats-io/nats.go"
	extErrors "github.com/pkg/errors"
)

var _ broker.Producer = &NATSBroker{}
var _ broker.Consumer = &NATSBroker{}

const (
	notificationSubject = "billing.notifications."
	taskSubject         = "billing.tasks."
	taskQueueGroup      = "workers"
)

// NATSBroker describes a message broker via NATS. Tasks are load balanced
// across a queue group, notifications fan out to every subscriber.
type NATSBroker struct {
	conn *nats.Conn
}

// NewNATSBroker returns a Message Broker over NATS
func NewNATSBroker(natsURI string) (*NATSBroker, error) {
	conn, err := nats.Connect(natsURI, nats.Name("stripemirror"))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	return &NATSBroker{
		conn: conn,
	}, nil
}

func (n *NATSBroker) Close() {
	n.conn.Drain()
}

func (n *NATSBroker) SendNotification(p *spec.Notification) error {
	protoBytes, err := encodeNotification(p)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(notificationSubject+p.Kind, protoBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish notification")
	}
	return nil
}

func (n *NATSBroker) SendTask(t *spec.Task) error {
	protoBytes, err := encodeTask(t)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(taskSubject+string(t.Type), protoBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish task")
	}
	return nil
}

func (n *NATSBroker) ReceiveTasks(ctx context.Context, taskType spec.TaskType) (<-chan *spec.Task, error) {
	msgChan := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanQueueSubscribe(taskSubject+string(taskType), taskQueueGroup, msgChan)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan *spec.Task)
	go func() {
		defer close(rChan)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgChan:
				t, err := decodeTask(m.Data)
				if err != nil {
					continue
				}
				select {
				case rChan <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return rChan, nil
}

// ReceiveNotifications subscribes to kind, which may use the NATS
// wildcards "*" and ">"
func (n *NATSBroker) ReceiveNotifications(ctx context.Context, kind string) (<-chan *spec.Notification, error) {
	msgChan := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(notificationSubject+kind, msgChan)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan *spec.Notification)
	go func() {
		defer close(rChan)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgChan:
				p, err := decodeNotification(m.Data)
				if err != nil {
					continue
				}
				select {
				case rChan <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return rChan, nil
}
