package broker

import (
	"context"

	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ broker.Producer = &AMQPBroker{}
var _ broker.Consumer = &AMQPBroker{}

const (
	notificationExchange string = "billing_notifications"
	taskExchange                = "billing_tasks"
)

// AMQPBroker describes a message broker via RabbitMQ. Notifications go
// through a topic exchange keyed by event type, tasks through a direct
// exchange keyed by task type.
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupExchange(notificationExchange, "topic"); err != nil {
		broker.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for notifications")
	}
	if err := broker.setupExchange(taskExchange, "direct"); err != nil {
		broker.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for tasks")
	}
	return broker, nil
}

func (a *AMQPBroker) setupExchange(name, kind string) error {
	return a.channel.ExchangeDeclare(
		name,  // name
		kind,  // type
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

func (a *AMQPBroker) publishViaRoutingKey(exchange, routingKey string, body []byte) error {
	return a.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  protobufContentType,
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// SendNotification broadcasts n with its kind as routing key
func (a *AMQPBroker) SendNotification(n *spec.Notification) error {
	protoBytes, err := encodeNotification(n)
	if err != nil {
		return err
	}
	if err := a.publishViaRoutingKey(notificationExchange, n.Kind, protoBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish notification")
	}
	return nil
}

// SendTask queues t for one of the workers of its type
func (a *AMQPBroker) SendTask(t *spec.Task) error {
	protoBytes, err := encodeTask(t)
	if err != nil {
		return err
	}
	if err := a.publishViaRoutingKey(taskExchange, string(t.Type), protoBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish task")
	}
	return nil
}

func (a *AMQPBroker) setupQueue(qName string) error {
	_, err := a.channel.QueueDeclare(
		qName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

func (a *AMQPBroker) bindAndGetMsgChan(qName, exchange, routingKey string) (<-chan amqp.Delivery, error) {
	if err := a.channel.QueueBind(
		qName,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		return nil, err
	}
	msgChan, err := a.channel.Consume(
		qName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	return msgChan, err
}

// ReceiveTasks consumes the shared queue of taskType. Deliveries are acked
// once handed over and dropped if they cannot be decoded.
func (a *AMQPBroker) ReceiveTasks(ctx context.Context, taskType spec.TaskType) (<-chan *spec.Task, error) {
	name := "task_" + string(taskType)
	if err := a.setupQueue(name); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	msgChan, err := a.bindAndGetMsgChan(name, taskExchange, string(taskType))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan *spec.Task)
	go func() {
		defer close(rChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgChan:
				if !ok {
					return
				}
				t, err := decodeTask(d.Body)
				if err != nil {
					d.Nack(false, false)
					continue
				}
				select {
				case rChan <- t:
					d.Ack(false)
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return rChan, nil
}

// ReceiveNotifications binds a private queue to the notification exchange.
// kind is a topic pattern, "#" receives everything.
func (a *AMQPBroker) ReceiveNotifications(ctx context.Context, kind string) (<-chan *spec.Notification, error) {
	q, err := a.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	msgChan, err := a.bindAndGetMsgChan(q.Name, notificationExchange, kind)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan *spec.Notification)
	go func() {
		defer close(rChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgChan:
				if !ok {
					return
				}
				n, err := decodeNotification(d.Body)
				if err != nil {
					d.Nack(false, false)
					continue
				}
				select {
				case rChan <- n:
					d.Ack(false)
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return rChan, nil
}
