package broker

import (
	"fmt"
	"time"

	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

var _ broker.Producer = &DedupeProducer{}

// SetNXer is the subset of redis.UniversalClient used for deduplication
type SetNXer interface {
	SetNX(key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type DedupeOptions struct {
	Producer broker.Producer
	Redis    SetNXer
	Logger   *zap.Logger
	// TTL defaults to 24 hours
	TTL    time.Duration
	Prefix string
}

// DedupeProducer suppresses repeated notifications for the same event and
// kind, so an event handled twice by racing workers is announced once.
// Processing errors and tasks pass through untouched.
type DedupeProducer struct {
	DedupeOptions
}

func NewDedupeProducer(option DedupeOptions) (*DedupeProducer, error) {
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.TTL == 0 {
		option.TTL = time.Hour * 24
	}
	if option.Prefix == "" {
		option.Prefix = "stripemirror:notified:"
	}
	return &DedupeProducer{
		DedupeOptions: option,
	}, nil
}

func (d *DedupeProducer) Close() {
	d.Producer.Close()
}

func (d *DedupeProducer) SendNotification(n *spec.Notification) error {
	if n.EventID == "" || n.Kind == spec.ProcessingErrorNotification {
		return d.Producer.SendNotification(n)
	}
	key := d.Prefix + n.Kind + ":" + n.EventID
	first, err := d.Redis.SetNX(key, time.Now().Unix(), d.TTL).Result()
	if err != nil {
		d.Logger.Error("Redis returned error",
			zap.String("Key", key),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot check notification dedupe key")
	}
	if !first {
		d.Logger.Debug("Suppressed duplicate notification",
			zap.String("Kind", n.Kind),
			zap.String("EventID", n.EventID),
		)
		return nil
	}
	return d.Producer.SendNotification(n)
}

func (d *DedupeProducer) SendTask(t *spec.Task) error {
	return d.Producer.SendTask(t)
}
