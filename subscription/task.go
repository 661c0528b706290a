package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/mirror"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

type TaskOptions struct {
	SubscriptionManager *Manager
	Logger              *zap.Logger
	Interval            time.Duration
}

// Task periodically pulls subscriptions whose local period has lapsed
// while their status still says current, in case a webhook was missed
type Task struct {
	TaskOptions
}

func NewTask(option TaskOptions) (*Task, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		option.Interval = time.Hour
	}
	return &Task{
		TaskOptions: option,
	}, nil
}

// HandleRefresh blocks until ctx is canceled
func (t *Task) HandleRefresh(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		if _, err := t.Refresh(ctx); err != nil {
			t.Logger.Error("Unable to refresh stale subscriptions",
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

// Refresh re-mirrors every stale subscription and returns how many were
// refreshed. A subscription Stripe no longer knows about is marked canceled.
func (t *Task) Refresh(ctx context.Context) (int, error) {
	m := t.SubscriptionManager
	now := m.Mirror.Now()

	stale := make([]mirror.Subscription, 0)
	result := m.DB.WithContext(ctx).
		Where("status IN ?", []string{mirror.StatusTrialing, mirror.StatusActive, mirror.StatusPastDue}).
		Where("current_period_end < ?", now).
		Find(&stale)
	if result.Error != nil {
		t.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot find stale subscriptions")
	}

	refreshed := 0
	for i := range stale {
		sub := &stale[i]
		logger := t.Logger.With(zap.String("SubscriptionID", sub.ID))
		obj, err := m.Provider.Retrieve(ctx, external.Path(external.Subscriptions, sub.ID))
		switch {
		case external.IsNotFound(err):
			_, err = m.markCanceled(ctx, sub, now)
		case err == nil:
			_, err = m.Mirror.SyncSubscription(ctx, obj)
		}
		if err != nil {
			logger.Error("Unable to refresh subscription",
				zap.Error(err),
			)
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		t.Logger.Info("Refreshed stale subscriptions",
			zap.Int("Count", refreshed),
		)
	}
	return refreshed, nil
}
