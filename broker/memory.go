package broker

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"
)

var _ broker.Producer = &MemoryBroker{}
var _ broker.Consumer = &MemoryBroker{}

// MemoryBroker delivers messages in process. Messages still go through the
// wire encoding so it behaves like the networked brokers.
type MemoryBroker struct {
	mu          sync.Mutex
	closed      bool
	tasks       map[spec.TaskType]chan []byte
	subscribers []*memorySubscriber
}

type memorySubscriber struct {
	pattern string
	ch      chan []byte
}

// ErrClosed is returned when sending through a closed MemoryBroker
var ErrClosed = errors.New("broker is closed")

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		tasks: make(map[spec.TaskType]chan []byte),
	}
}

func (m *MemoryBroker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MemoryBroker) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryBroker) taskQueue(taskType spec.TaskType) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.tasks[taskType]
	if !ok {
		q = make(chan []byte, 1024)
		m.tasks[taskType] = q
	}
	return q
}

func (m *MemoryBroker) SendTask(t *spec.Task) error {
	if m.isClosed() {
		return ErrClosed
	}
	b, err := encodeTask(t)
	if err != nil {
		return err
	}
	m.taskQueue(t.Type) <- b
	return nil
}

func (m *MemoryBroker) SendNotification(n *spec.Notification) error {
	if m.isClosed() {
		return ErrClosed
	}
	b, err := encodeNotification(n)
	if err != nil {
		return err
	}
	m.mu.Lock()
	subs := append([]*memorySubscriber(nil), m.subscribers...)
	m.mu.Unlock()
	for _, s := range subs {
		if matchTopic(s.pattern, n.Kind) {
			select {
			case s.ch <- b:
			default:
			}
		}
	}
	return nil
}

func (m *MemoryBroker) ReceiveTasks(ctx context.Context, taskType spec.TaskType) (<-chan *spec.Task, error) {
	q := m.taskQueue(taskType)
	rChan := make(chan *spec.Task)
	go func() {
		defer close(rChan)
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-q:
				t, err := decodeTask(b)
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

func (m *MemoryBroker) ReceiveNotifications(ctx context.Context, kind string) (<-chan *spec.Notification, error) {
	sub := &memorySubscriber{pattern: kind, ch: make(chan []byte, 1024)}
	m.mu.Lock()
	m.subscribers = append(m.subscribers, sub)
	m.mu.Unlock()

	rChan := make(chan *spec.Notification)
	go func() {
		defer close(rChan)
		defer m.unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-sub.ch:
				n, err := decodeNotification(b)
				if err != nil {
					continue
				}
				select {
				case rChan <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return rChan, nil
}

func (m *MemoryBroker) unsubscribe(sub *memorySubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subscribers {
		if s == sub {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// matchTopic matches dot separated keys the way AMQP topic exchanges do.
// "*" matches one word, "#" or ">" match the remaining words.
func matchTopic(pattern, key string) bool {
	p := strings.Split(pattern, ".")
	k := strings.Split(key, ".")
	for i, word := range p {
		if word == "#" || word == ">" {
			return true
		}
		if i >= len(k) {
			return false
		}
		if word != "*" && word != k[i] {
			return false
		}
	}
	return len(p) == len(k)
}
