package mirror

import "time"

// StatusCurrent reports whether the subscription is trialing or active
func (s *Subscription) StatusCurrent() bool {
	return s.Status == StatusTrialing || s.Status == StatusActive
}

// PeriodCurrent reports whether the current period ends strictly after now
func (s *Subscription) PeriodCurrent(now time.Time) bool {
	return s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(now)
}

// Valid reports whether the subscription is both status- and period-current
func (s *Subscription) Valid(now time.Time) bool {
	return s.StatusCurrent() && s.PeriodCurrent(now)
}

// TemporarilyCurrent is true for a subscription canceled without proration
// that stays billable until the end of its period.
func (s *Subscription) TemporarilyCurrent() bool {
	return s.CanceledAt != nil && s.Start.Before(*s.CanceledAt) && s.CancelAtPeriodEnd
}

// IsActive reports whether the customer should currently be treated as subscribed
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Valid(now) || s.TemporarilyCurrent()
}

// InTrial reports whether the trial ends strictly after now
func (s *Subscription) InTrial(now time.Time) bool {
	return s.TrialEnd != nil && s.TrialEnd.After(now)
}
