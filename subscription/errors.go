package subscription

import (
	"errors"
	"fmt"
)

var (
	// ErrPlanRequired is returned when no plan is given and the customer
	// does not have exactly one subscription
	ErrPlanRequired = errors.New("customer must have exactly one subscription when no plan is given")
	// ErrInvalidExtension is returned by Extend for non-positive durations
	ErrInvalidExtension = errors.New("extension must be positive")
)

// AmbiguityError is returned when more than one subscription matches where
// exactly one is required
type AmbiguityError struct {
	CustomerID string
	PlanID     string
	Count      int64
}

func (e *AmbiguityError) Error() string {
	if e.PlanID == "" {
		return fmt.Sprintf("customer %s has %d subscriptions", e.CustomerID, e.Count)
	}
	return fmt.Sprintf("customer %s has %d subscriptions to plan %s", e.CustomerID, e.Count, e.PlanID)
}

// CancellationFailure is returned when a subscription could not be canceled
type CancellationFailure struct {
	SubscriptionID string
	Message        string
	Err            error
}

func (e *CancellationFailure) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Cannot cancel subscription " + e.SubscriptionID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CancellationFailure) Unwrap() error {
	return e.Err
}

func IsAmbiguous(err error) bool {
	var e *AmbiguityError
	return errors.As(err, &e)
}

func IsCancellationFailure(err error) bool {
	var e *CancellationFailure
	return errors.As(err, &e)
}
