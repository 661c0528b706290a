package event

import (
	"context"
	"fmt"
	"time"

	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

type TaskOptions struct {
	Dispatcher *Dispatcher
	Consumer   broker.Consumer
	Logger     *zap.Logger
	// ReplayInterval is how often HandleReplay re-drives pending events.
	// Defaults to 10 minutes.
	ReplayInterval time.Duration
	ReplayBatch    int
	// MaxAttempts stops replaying an event after it failed this many times.
	// Such events are only handled again on an explicit replay. Defaults to 5.
	MaxAttempts int
}

type Task struct {
	TaskOptions
}

func NewTask(option TaskOptions) (*Task, error) {
	if option.Dispatcher == nil {
		return nil, fmt.Errorf("nil Dispatcher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.ReplayInterval <= 0 {
		option.ReplayInterval = time.Minute * 10
	}
	if option.ReplayBatch <= 0 {
		option.ReplayBatch = 100
	}
	if option.MaxAttempts <= 0 {
		option.MaxAttempts = 5
	}
	return &Task{
		TaskOptions: option,
	}, nil
}

func (t *Task) handleTask(ctx context.Context, task *spec.Task) {
	if task == nil {
		t.Logger.Error("Received nil spec.Task when processing dispatch")
		return
	}
	if task.EventID == "" {
		t.Logger.Error("Received empty EventID when processing dispatch")
		return
	}
	if err := t.Dispatcher.HandleByID(ctx, task.EventID); err != nil {
		t.Logger.Error("Unable to dispatch event",
			zap.String("EventID", task.EventID),
			zap.Error(err),
		)
	}
}

// HandleTasks starts consuming dispatch tasks until ctx is canceled
func (t *Task) HandleTasks(ctx context.Context) error {
	if t.Consumer == nil {
		return fmt.Errorf("nil Consumer is invalid")
	}
	tChan, err := t.Consumer.ReceiveTasks(ctx, spec.DispatchTask)
	if err != nil {
		return extErrors.Wrap(err, "Cannot get dispatch task channel")
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case task, ok := <-tChan:
				if !ok {
					return
				}
				t.handleTask(ctx, task)
			}
		}
	}()
	return nil
}

// ReplayPending re-drives up to limit events that were never confirmed, or
// confirmed but not processed, skipping events that already failed
// MaxAttempts times. It returns how many ended up processed.
func (t *Task) ReplayPending(ctx context.Context, limit int) (int, error) {
	pending, err := t.Dispatcher.EventManager.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}
	processed, skipped := 0, 0
	for i := range pending {
		e := &pending[i]
		if e.Attempts >= t.MaxAttempts {
			skipped++
			continue
		}
		if err := t.Dispatcher.Handle(ctx, e); err != nil {
			t.Logger.Error("Unable to replay event",
				zap.String("EventID", e.ID),
				zap.Error(err),
			)
			continue
		}
		if e.Processed {
			processed++
		}
	}
	if skipped > 0 {
		t.Logger.Warn("Pending events exhausted their attempts",
			zap.Int("Count", skipped),
			zap.Int("MaxAttempts", t.MaxAttempts),
		)
	}
	if processed > 0 {
		t.Logger.Info("Replayed pending events",
			zap.Int("Count", processed),
		)
	}
	return processed, nil
}

// HandleReplay blocks until ctx is canceled
func (t *Task) HandleReplay(ctx context.Context) {
	ticker := time.NewTicker(t.ReplayInterval)
	defer ticker.Stop()
	for {
		if _, err := t.ReplayPending(ctx, t.ReplayBatch); err != nil {
			t.Logger.Error("Unable to replay pending events",
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
