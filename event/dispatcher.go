package event

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DispatcherOptions struct {
	EventManager *Manager
	Registry     *Registry
	// Producer is optional. Without it notifications are only logged.
	Producer broker.Producer
	Logger   *zap.Logger
	// ClaimTimeout is how long a claim holds before another worker may take
	// over the event. Defaults to 5 minutes.
	ClaimTimeout time.Duration
}

// Dispatcher runs the registered handlers of confirmed events. Handler
// failures never escape Process: they are recorded in the exception log and
// broadcast as a processing error notification instead.
type Dispatcher struct {
	DispatcherOptions
}

func NewDispatcher(option DispatcherOptions) (*Dispatcher, error) {
	if option.EventManager == nil {
		return nil, fmt.Errorf("nil EventManager is invalid")
	}
	if option.Registry == nil {
		return nil, fmt.Errorf("nil Registry is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.ClaimTimeout == 0 {
		option.ClaimTimeout = time.Minute * 5
	}
	return &Dispatcher{
		DispatcherOptions: option,
	}, nil
}

// Handle validates e and processes it when it is authentic
func (d *Dispatcher) Handle(ctx context.Context, e *Event) error {
	valid, err := d.EventManager.Validate(ctx, e)
	if err != nil {
		return err
	}
	if !valid {
		return nil
	}
	return d.Process(ctx, e)
}

// HandleByID loads the event and handles it
func (d *Dispatcher) HandleByID(ctx context.Context, id string) error {
	e, err := d.EventManager.Get(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		d.Logger.Warn("Event to handle does not exist",
			zap.String("EventID", id),
		)
		return nil
	}
	return d.Handle(ctx, e)
}

func (d *Dispatcher) claim(ctx context.Context, e *Event) (string, error) {
	token := uuid.NewString()
	now := d.EventManager.Now()
	result := d.EventManager.DB.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND processed = ? AND valid = ?", e.ID, false, true).
		Where("claim_token IS NULL OR claimed_at < ?", now.Add(-d.ClaimTimeout)).
		Updates(map[string]interface{}{
			"claim_token": token,
			"claimed_at":  now,
		})
	if result.Error != nil {
		return "", extErrors.Wrap(result.Error, "Cannot claim event")
	}
	if result.RowsAffected == 0 {
		return "", nil
	}
	return token, nil
}

func (d *Dispatcher) settle(ctx context.Context, e *Event, token string, processed bool) error {
	updates := map[string]interface{}{
		"claim_token": nil,
		"claimed_at":  nil,
	}
	if processed {
		updates["processed"] = true
	} else {
		updates["attempts"] = gorm.Expr("attempts + ?", 1)
	}
	result := d.EventManager.DB.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND claim_token = ?", e.ID, token).
		Updates(updates)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot settle event claim")
	}
	return nil
}

// Process runs the handlers of a confirmed, unprocessed event. Only one
// caller at a time holds the claim on an event; the others return at once.
func (d *Dispatcher) Process(ctx context.Context, e *Event) error {
	if !e.IsValid() || e.Processed {
		return nil
	}
	logger := d.Logger.With(
		zap.String("EventID", e.ID),
		zap.String("EventType", e.Type),
	)

	token, err := d.claim(ctx, e)
	if err != nil {
		logger.Error("Database returned error",
			zap.Error(err),
		)
		return err
	}
	if token == "" {
		logger.Debug("Event is claimed elsewhere or already processed")
		return nil
	}

	start := time.Now()
	category, subtype := e.Category(), e.Subtype()
	data := e.Data()
	handlerErr := d.invoke(ctx, e, data, category, subtype)
	elapsed := time.Since(start).Seconds()

	if handlerErr == nil {
		if err := d.settle(ctx, e, token, true); err != nil {
			logger.Error("Database returned error",
				zap.Error(err),
			)
			return err
		}
		e.Processed = true
		d.EventManager.Metrics.Processed(category, "processed", elapsed)
		d.notify(logger, &spec.Notification{
			Kind:    e.Type,
			EventID: e.ID,
			Data:    encodeData(data),
		})
		return nil
	}

	logger.Error("Unable to process event",
		zap.Error(handlerErr),
	)
	d.EventManager.Metrics.Processed(category, "failed", elapsed)
	d.EventManager.Metrics.HandlerFailed(category, subtype)
	if _, err := d.EventManager.Exceptions.Log(ctx, handlerErr, e); err != nil {
		logger.Error("Unable to record exception",
			zap.Error(err),
		)
	}
	d.notify(logger, &spec.Notification{
		Kind:    spec.ProcessingErrorNotification,
		EventID: e.ID,
		Data:    json.RawMessage(errorBody(handlerErr)),
	})
	if err := d.settle(ctx, e, token, false); err != nil {
		logger.Error("Unable to release event claim",
			zap.Error(err),
		)
	} else {
		e.Attempts++
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
	for _, h := range d.Registry.Handlers(category, subtype) {
		if err := safeHandle(ctx, h, e, data, category, subtype); err != nil {
			return err
		}
	}
	return nil
}

func safeHandle(ctx context.Context, h Handler, e *Event, data external.Object, category, subtype string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, e, data, category, subtype)
}

func (d *Dispatcher) notify(logger *zap.Logger, n *spec.Notification) {
	if d.Producer == nil {
		logger.Debug("Notification without producer",
			zap.String("Kind", n.Kind),
		)
		return
	}
	if err := d.Producer.SendNotification(n); err != nil {
		logger.Error("Unable to send notification",
			zap.String("Kind", n.Kind),
			zap.Error(err),
		)
		return
	}
	d.EventManager.Metrics.Notified(n.Kind)
}

func encodeData(data external.Object) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}
