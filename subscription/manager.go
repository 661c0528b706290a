package subscription

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/mirror"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ManagerOptions struct {
	Provider external.Provider
	Mirror   *mirror.Manager
	DB       *gorm.DB
	Logger   *zap.Logger
	// PathToPlanJSON optionally lists plans that must exist on Stripe
	PathToPlanJSON string
}

// Manager implements the subscription lifecycle on top of the mirror
type Manager struct {
	ManagerOptions
	plans []PlanDefinition
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Mirror == nil {
		return nil, fmt.Errorf("nil Mirror is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	m := &Manager{
		ManagerOptions: option,
	}
	if len(option.PathToPlanJSON) > 0 {
		plans, err := loadPlansFromFile(option.PathToPlanJSON)
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot populate defined Plans")
		}
		for _, p := range plans {
			if _, _, err := m.GetOrCreatePlan(context.Background(), p); err != nil {
				return nil, extErrors.Wrap(err, "Cannot ensure Plan existence on Stripe")
			}
		}
		m.plans = plans
	}
	return m, nil
}

// DefinedPlans returns the plans loaded from PathToPlanJSON
func (m *Manager) DefinedPlans() []PlanDefinition {
	return m.plans
}

// List returns the mirrored subscriptions of a customer, optionally
// restricted to one plan
func (m *Manager) List(ctx context.Context, customerID, planID string) ([]mirror.Subscription, error) {
	if len(customerID) == 0 {
		return nil, fmt.Errorf("CustomerID is required")
	}
	query := m.DB.WithContext(ctx).Where("customer_id = ?", customerID)
	if len(planID) > 0 {
		query = query.Where("plan_id = ?", planID)
	}
	results := make([]mirror.Subscription, 0, 1)
	if err := query.Order("start desc").Find(&results).Error; err != nil {
		m.Logger.Error("Database returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot list subscriptions")
	}
	return results, nil
}

// Single returns the customer's only subscription. It returns nil when the
// customer has none and an *AmbiguityError when there is more than one.
func (m *Manager) Single(ctx context.Context, customerID string) (*mirror.Subscription, error) {
	subs, err := m.List(ctx, customerID, "")
	if err != nil {
		return nil, err
	}
	switch len(subs) {
	case 0:
		return nil, nil
	case 1:
		return &subs[0], nil
	}
	return nil, &AmbiguityError{CustomerID: customerID, Count: int64(len(subs))}
}

// HasActive reports whether the customer has a valid or temporarily current
// subscription, to planID if it is not empty
func (m *Manager) HasActive(ctx context.Context, customerID, planID string) (bool, error) {
	subs, err := m.List(ctx, customerID, planID)
	if err != nil {
		return false, err
	}
	now := m.Mirror.Now()
	for _, sub := range subs {
		if sub.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

type SubscribeOptions struct {
	TrialDays *int64
	Quantity  int64
	Prorate   *bool
}

func prorationBehavior(prorate bool) string {
	if prorate {
		return "create_prorations"
	}
	return "none"
}

// Subscribe creates a subscription on Stripe and mirrors it
func (m *Manager) Subscribe(ctx context.Context, customerID, planID string, opt SubscribeOptions) (*mirror.Subscription, error) {
	logger := m.Logger.With(
		zap.String("CustomerID", customerID),
		zap.String("PlanID", planID),
	)
	fields := external.Fields{
		"customer":       customerID,
		"items[0][plan]": planID,
	}
	if opt.Quantity > 0 {
		fields["items[0][quantity]"] = strconv.FormatInt(opt.Quantity, 10)
	}
	if opt.TrialDays != nil {
		fields["trial_period_days"] = strconv.FormatInt(*opt.TrialDays, 10)
	}
	if opt.Prorate != nil {
		fields["proration_behavior"] = prorationBehavior(*opt.Prorate)
	}
	obj, err := m.Provider.Post(ctx, external.Path(external.Subscriptions), fields)
	if err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create subscription")
	}
	return m.Mirror.SyncSubscription(ctx, obj)
}

func (m *Manager) cancellationTarget(ctx context.Context, customerID, planID string) (*mirror.Subscription, error) {
	subs, err := m.List(ctx, customerID, planID)
	if err != nil {
		return nil, err
	}
	if len(planID) == 0 {
		if len(subs) != 1 {
			return nil, extErrors.Wrapf(ErrPlanRequired, "customer %s has %d subscriptions", customerID, len(subs))
		}
		return &subs[0], nil
	}
	switch len(subs) {
	case 0:
		return nil, &CancellationFailure{Message: "Customer does not have a subscription."}
	case 1:
		return &subs[0], nil
	}
	return nil, &AmbiguityError{CustomerID: customerID, PlanID: planID, Count: int64(len(subs))}
}

// Cancel cancels the customer's subscription to planID, or its only
// subscription when planID is empty. A subscription still in trial is
// always canceled immediately so the customer is never billed at trial end.
func (m *Manager) Cancel(ctx context.Context, customerID, planID string, atPeriodEnd bool) (*mirror.Subscription, error) {
	sub, err := m.cancellationTarget(ctx, customerID, planID)
	if err != nil {
		return nil, err
	}
	logger := m.Logger.With(
		zap.String("CustomerID", customerID),
		zap.String("SubscriptionID", sub.ID),
	)

	now := m.Mirror.Now()
	if sub.InTrial(now) {
		atPeriodEnd = false
	}

	path := external.Path(external.Subscriptions, sub.ID)
	var obj external.Object
	if atPeriodEnd {
		obj, err = m.Provider.Post(ctx, path, external.Fields{"cancel_at_period_end": "true"})
	} else {
		obj, err = m.Provider.Delete(ctx, path, nil)
	}
	if external.IsNotFound(err) {
		logger.Info("Subscription is already gone on Stripe")
		return m.markCanceled(ctx, sub, now)
	}
	if err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, &CancellationFailure{SubscriptionID: sub.ID, Err: err}
	}
	return m.Mirror.SyncSubscription(ctx, obj)
}

func (m *Manager) markCanceled(ctx context.Context, sub *mirror.Subscription, now time.Time) (*mirror.Subscription, error) {
	updates := map[string]interface{}{
		"status":   mirror.StatusCanceled,
		"ended_at": now,
	}
	if sub.CanceledAt == nil {
		updates["canceled_at"] = now
	}
	result := m.DB.WithContext(ctx).Model(&mirror.Subscription{}).Where("id = ?", sub.ID).Updates(updates)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot mark subscription as canceled")
	}
	return m.Mirror.GetSubscription(ctx, sub.ID)
}

type UpdateOptions struct {
	PlanID   string
	Quantity int64
	Prorate  *bool
}

// Update changes the plan or quantity of a subscription
func (m *Manager) Update(ctx context.Context, sub *mirror.Subscription, opt UpdateOptions) (*mirror.Subscription, error) {
	fields := external.Fields{}
	if len(opt.PlanID) > 0 {
		fields["plan"] = opt.PlanID
	}
	if opt.Quantity > 0 {
		fields["quantity"] = strconv.FormatInt(opt.Quantity, 10)
	}
	if opt.Prorate != nil {
		fields["proration_behavior"] = prorationBehavior(*opt.Prorate)
	}
	obj, err := m.Provider.Post(ctx, external.Path(external.Subscriptions, sub.ID), fields)
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("SubscriptionID", sub.ID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot update subscription")
	}
	return m.Mirror.SyncSubscription(ctx, obj)
}

// Extend pushes the end of the current period (or trial) out by delta
// without proration
func (m *Manager) Extend(ctx context.Context, sub *mirror.Subscription, delta time.Duration) (*mirror.Subscription, error) {
	if delta <= 0 {
		return nil, ErrInvalidExtension
	}
	base := m.Mirror.Now()
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(base) {
		base = *sub.CurrentPeriodEnd
	}
	if sub.TrialEnd != nil && sub.TrialEnd.After(base) {
		base = *sub.TrialEnd
	}
	fields := external.Fields{
		"trial_end":          strconv.FormatInt(base.Add(delta).Unix(), 10),
		"proration_behavior": prorationBehavior(false),
	}
	obj, err := m.Provider.Post(ctx, external.Path(external.Subscriptions, sub.ID), fields)
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("SubscriptionID", sub.ID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot extend subscription")
	}
	return m.Mirror.SyncSubscription(ctx, obj)
}
