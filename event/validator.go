package event

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/zllovesuki/stripemirror/external"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Validate confirms the event with the provider by comparing the payload it
// was delivered with against the one the provider has on record. The id,
// type, livemode and data must all match; delivery bookkeeping such as
// pending_webhooks is ignored. The verdict is stored once; later calls return
// it without contacting the provider. An event unknown to the provider is
// inauthentic.
func (m *Manager) Validate(ctx context.Context, e *Event) (bool, error) {
	if e.Valid != nil {
		return *e.Valid, nil
	}
	logger := m.Logger.With(zap.String("EventID", e.ID))

	remote, err := m.Provider.Retrieve(ctx, external.Path(external.Events, e.ID))
	var valid bool
	switch {
	case external.IsNotFound(err):
		logger.Warn("Event is unknown to Stripe")
		valid = false
	case err != nil:
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return false, extErrors.Wrap(err, "Cannot retrieve event for validation")
	default:
		valid, err = samePayload(e.message(), remote)
		if err != nil {
			return false, err
		}
	}

	result := m.DB.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND valid IS NULL", e.ID).
		Update("valid", valid)
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot store event validity")
	}
	if result.RowsAffected == 0 {
		stored, err := m.Get(ctx, e.ID)
		if err != nil {
			return false, err
		}
		if stored != nil && stored.Valid != nil {
			valid = *stored.Valid
		}
	}
	m.Metrics.Validated(valid)
	if !valid {
		logger.Warn("Event failed validation")
	}
	e.Valid = &valid
	return valid, nil
}

// authenticatedKeys are the parts of an event payload that must match the
// provider's copy
var authenticatedKeys = []string{"id", "type", "livemode", "data"}

func authenticated(obj external.Object) external.Object {
	projection := make(external.Object, len(authenticatedKeys))
	for _, k := range authenticatedKeys {
		projection[k] = obj[k]
	}
	return projection
}

func samePayload(local, remote external.Object) (bool, error) {
	if local == nil || remote == nil || local.Object("data") == nil {
		return false, nil
	}
	a, err := canonicalObject(authenticated(local))
	if err != nil {
		return false, err
	}
	b, err := canonicalObject(authenticated(remote))
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}

func canonicalObject(obj external.Object) ([]byte, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode event data")
	}
	return Canonicalize(b)
}
