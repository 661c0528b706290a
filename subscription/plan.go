package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/mirror"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlanDefinition describes a plan that should exist on Stripe. Amount is in
// major units (e.g. 9.99 for $9.99).
// Only Name can be changed once the plan is created; changing anything else
// requires a new ID.
type PlanDefinition struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Interval        string          `json:"interval"`
	IntervalCount   int64           `json:"intervalCount"`
	TrialPeriodDays *int64          `json:"trialPeriodDays"`
}

// loadPlansFromFile will read from the plan JSON file to define what plans
// should be available for purchase
func loadPlansFromFile(filename string) ([]PlanDefinition, error) {
	jsonBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open plans JSON file")
	}
	plans := make([]PlanDefinition, 0, 1)
	if err := json.Unmarshal(jsonBytes, &plans); err != nil {
		return nil, extErrors.Wrap(err, "Invalid plan JSON file")
	}
	for _, p := range plans {
		if len(p.ID) == 0 || len(p.Name) == 0 {
			return nil, fmt.Errorf("Plan must have both ID and Name")
		}
	}
	return plans, nil
}

// GetOrCreatePlan returns the mirrored plan with def.ID, creating it on
// Stripe first if it is not mirrored yet. The boolean is true when the plan
// was created.
func (m *Manager) GetOrCreatePlan(ctx context.Context, def PlanDefinition) (*mirror.Plan, bool, error) {
	plan, err := m.Mirror.GetPlan(ctx, def.ID)
	if err != nil {
		return nil, false, err
	}
	if plan != nil {
		return plan, false, nil
	}
	plan, err = m.CreatePlan(ctx, def)
	if err != nil {
		return nil, false, err
	}
	return plan, true, nil
}

// CreatePlan creates the plan on Stripe and mirrors it
func (m *Manager) CreatePlan(ctx context.Context, def PlanDefinition) (*mirror.Plan, error) {
	if def.Currency == "" {
		def.Currency = "usd"
	}
	if def.IntervalCount == 0 {
		def.IntervalCount = 1
	}
	fields := external.Fields{
		"id":             def.ID,
		"nickname":       def.Name,
		"product[name]":  def.Name,
		"amount":         def.Amount.Shift(2).Round(0).String(),
		"currency":       def.Currency,
		"interval":       def.Interval,
		"interval_count": strconv.FormatInt(def.IntervalCount, 10),
	}
	if def.TrialPeriodDays != nil {
		fields["trial_period_days"] = strconv.FormatInt(*def.TrialPeriodDays, 10)
	}
	obj, err := m.Provider.Post(ctx, external.Path(external.Plans), fields)
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("PlanID", def.ID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create plan")
	}
	return m.Mirror.SyncPlan(ctx, obj)
}

// UpdatePlanName renames the plan on Stripe, then locally
func (m *Manager) UpdatePlanName(ctx context.Context, planID, name string) (*mirror.Plan, error) {
	logger := m.Logger.With(zap.String("PlanID", planID))
	if _, err := m.Provider.Post(ctx, external.Path(external.Plans, planID), external.Fields{"nickname": name}); err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot rename plan")
	}
	result := m.DB.WithContext(ctx).Model(&mirror.Plan{}).Where("id = ?", planID).Update("name", name)
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot rename mirrored plan")
	}
	return m.Mirror.GetPlan(ctx, planID)
}
