package event

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/external/externaltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge","amount":1000}`)
	e := f.record(t, body)
	f.confirm(t, body)

	valid, err := f.Validate(ctx, e)
	require.NoError(t, err)
	assert.True(t, valid)

	stored, err := f.Get(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Valid)
	assert.True(t, *stored.Valid)

	valid, err = f.Validate(ctx, stored)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Len(t, f.provider.Calls(http.MethodGet, external.Path(external.Events, e.ID)), 1)
}

func TestValidateRejectsTamperedData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.record(t, eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge","amount":1}`))
	f.confirm(t, eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge","amount":1000}`))

	valid, err := f.Validate(ctx, e)
	require.NoError(t, err)
	assert.False(t, valid)

	stored, err := f.Get(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Valid)
	assert.False(t, *stored.Valid)
	assert.Nil(t, stored.Message())
}

func TestValidateRejectsTamperedEnvelope(t *testing.T) {
	object := `{"id":"cus_1","object":"customer","email":"a@example.com"}`
	tests := []struct {
		name      string
		delivered []byte
	}{
		{
			name:      "type",
			delivered: eventPayload("evt_1", "customer.deleted", object),
		},
		{
			name:      "livemode",
			delivered: []byte(`{"id":"evt_1","object":"event","type":"customer.updated","livemode":true,"pending_webhooks":1,"data":{"object":` + object + `}}`),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			e := f.record(t, tc.delivered)
			f.confirm(t, eventPayload("evt_1", "customer.updated", object))

			valid, err := f.Validate(ctx, e)
			require.NoError(t, err)
			assert.False(t, valid)

			stored, err := f.Get(ctx, e.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.Valid)
			assert.False(t, *stored.Valid)
		})
	}
}

func TestValidateIgnoresDeliveryBookkeeping(t *testing.T) {
	f := newFixture(t)
	body := eventPayload("evt_1", "customer.updated", `{"id":"cus_1","object":"customer"}`)
	e := f.record(t, body)

	obj, err := external.DecodeObject(body)
	require.NoError(t, err)
	obj["pending_webhooks"] = json.Number("3")
	obj["request"] = map[string]interface{}{"id": "req_1"}
	f.provider.Set(external.Path(external.Events, e.ID), obj)

	valid, err := f.Validate(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestValidateUnknownEventIsInvalid(t *testing.T) {
	f := newFixture(t)
	e := f.record(t, eventPayload("evt_forged", "charge.succeeded", `{"id":"ch_1","object":"charge"}`))

	valid, err := f.Validate(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateProviderErrorLeavesEventUnconfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.record(t, eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`))
	f.provider.Fail(http.MethodGet, external.Path(external.Events, e.ID), externaltest.APIError("try again later"))

	_, err := f.Validate(ctx, e)
	require.Error(t, err)

	stored, err := f.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Valid)
}

func TestValidateKeepsFirstVerdict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`)
	e := f.record(t, body)
	f.confirm(t, body)

	// another worker stored a verdict after e was loaded
	require.NoError(t, f.DB.Model(&Event{}).Where("id = ?", e.ID).Update("valid", false).Error)

	valid, err := f.Validate(ctx, e)
	require.NoError(t, err)
	assert.False(t, valid)
}
