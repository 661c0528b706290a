package event

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/external/externaltest"
	"github.com/zllovesuki/stripemirror/spec"

	extErrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func countingHandler(n *int32) Handler {
	return HandlerFunc(func(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
		atomic.AddInt32(n, 1)
		return nil
	})
}

// confirmed records body and marks it valid
func (f *fixture) confirmed(t *testing.T, body []byte) *Event {
	t.Helper()
	e := f.record(t, body)
	f.confirm(t, body)
	valid, err := f.Validate(context.Background(), e)
	require.NoError(t, err)
	require.True(t, valid)
	return e
}

func TestDispatcherOptions(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{})
	require.Error(t, err)
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	order := make([]string, 0)
	named := func(name string) Handler {
		return HandlerFunc(func(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
			order = append(order, name)
			return nil
		})
	}
	r.RegisterCategory("invoice", named("wildcard"))
	r.Register("invoice", "paid", named("exact-1"))
	r.Register("invoice", "paid", named("exact-2"))
	r.Register("invoice", "created", named("other"))

	for _, h := range r.Handlers("invoice", "paid") {
		require.NoError(t, h.Handle(context.Background(), nil, nil, "invoice", "paid"))
	}
	assert.Equal(t, []string{"exact-1", "exact-2", "wildcard"}, order)
	assert.Empty(t, r.Handlers("charge", "succeeded"))
}

func TestProcessRunsHandlersOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got struct {
		id       string
		category string
		subtype  string
	}
	f.registry.Register("charge", "succeeded", HandlerFunc(func(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
		got.id, got.category, got.subtype = data.ID(), category, subtype
		return nil
	}))
	e := f.confirmed(t, eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`))

	require.NoError(t, f.dispatcher.Process(ctx, e))
	assert.Equal(t, "ch_1", got.id)
	assert.Equal(t, "charge", got.category)
	assert.Equal(t, "succeeded", got.subtype)

	stored, err := f.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Nil(t, stored.ClaimToken)
	assert.Nil(t, stored.ClaimedAt)

	sent := f.producer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "charge.succeeded", sent[0].Kind)
	assert.Equal(t, "evt_1", sent[0].EventID)
	assert.JSONEq(t, `{"id":"ch_1","object":"charge"}`, string(sent[0].Data))

	var calls int32
	f.registry.Register("charge", "succeeded", countingHandler(&calls))
	require.NoError(t, f.dispatcher.Process(ctx, stored))
	require.NoError(t, f.dispatcher.Process(ctx, e))
	assert.EqualValues(t, 0, calls)
}

func TestHandlersSeePreviousAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var previous external.Object
	f.registry.RegisterCategory("customer", HandlerFunc(func(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
		previous = e.PreviousAttributes()
		return nil
	}))
	body := []byte(`{"id":"evt_1","object":"event","type":"customer.updated","livemode":false,"data":{"object":{"id":"cus_1","object":"customer","email":"new@example.com"},"previous_attributes":{"email":"old@example.com"}}}`)
	e := f.confirmed(t, body)

	require.NoError(t, f.dispatcher.Process(ctx, e))
	require.NotNil(t, previous)
	assert.Equal(t, "old@example.com", previous.String("email"))
}

func TestProcessSkipsUnconfirmedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls int32
	f.registry.RegisterCategory("charge", countingHandler(&calls))

	e := f.record(t, eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`))
	require.NoError(t, f.dispatcher.Process(ctx, e))

	forged := f.record(t, eventPayload("evt_2", "charge.succeeded", `{"id":"ch_2","object":"charge"}`))
	require.NoError(t, f.dispatcher.Handle(ctx, forged))

	assert.EqualValues(t, 0, calls)
	assert.Empty(t, f.producer.sent())
}

func TestProcessIsolatesHandlerErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var after int32
	f.registry.Register("invoice", "payment_failed", HandlerFunc(func(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
		return extErrors.Wrap(externaltest.APIError("upstream broke"), "Cannot sync invoice")
	}))
	f.registry.RegisterCategory("invoice", countingHandler(&after))
	e := f.confirmed(t, eventPayload("evt_1", "invoice.payment_failed", `{"id":"in_1","object":"invoice"}`))

	require.NoError(t, f.dispatcher.Process(ctx, e))
	assert.EqualValues(t, 0, after)

	stored, err := f.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Nil(t, stored.ClaimToken)

	exceptions, err := f.Exceptions.ListForEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Contains(t, exceptions[0].Message, "Cannot sync invoice")
	assert.Contains(t, exceptions[0].Traceback, "dispatcher_test")
	assert.JSONEq(t, `{"error":{"message":"upstream broke"}}`, string(exceptions[0].Data))

	sent := f.producer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, spec.ProcessingErrorNotification, sent[0].Kind)
	assert.Equal(t, "evt_1", sent[0].EventID)
	assert.JSONEq(t, `{"error":{"message":"upstream broke"}}`, string(sent[0].Data))

	// the event stays eligible for replay
	f.registry = NewRegistry()
	f.dispatcher.Registry = f.registry
	require.NoError(t, f.dispatcher.Process(ctx, stored))
	stored, err = f.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestProcessRecoversPanics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registry.Register("customer", "updated", HandlerFunc(func(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
		panic("kaboom")
	}))
	e := f.confirmed(t, eventPayload("evt_1", "customer.updated", `{"id":"cus_1","object":"customer"}`))

	require.NoError(t, f.dispatcher.Process(ctx, e))

	exceptions, err := f.Exceptions.ListForEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "handler panic: kaboom", exceptions[0].Message)
	assert.Contains(t, exceptions[0].Traceback, "goroutine")

	var body string
	require.NoError(t, json.Unmarshal(exceptions[0].Data, &body))
	assert.Equal(t, "handler panic: kaboom", body)

	sent := f.producer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, spec.ProcessingErrorNotification, sent[0].Kind)
}

func TestProcessRespectsClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls int32
	f.registry.RegisterCategory("plan", countingHandler(&calls))
	e := f.confirmed(t, eventPayload("evt_1", "plan.updated", `{"id":"gold","object":"plan"}`))

	claimedAt := now.Add(-time.Minute)
	require.NoError(t, f.DB.Model(&Event{}).Where("id = ?", e.ID).Updates(map[string]interface{}{
		"claim_token": "other-worker",
		"claimed_at":  claimedAt,
	}).Error)

	require.NoError(t, f.dispatcher.Process(ctx, e))
	assert.EqualValues(t, 0, calls)

	// the other worker went away
	f.clock = now.Add(time.Hour)
	require.NoError(t, f.dispatcher.Process(ctx, e))
	assert.EqualValues(t, 1, calls)

	stored, err := f.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestProcessWithoutProducer(t *testing.T) {
	f := newFixture(t)
	d, err := NewDispatcher(DispatcherOptions{
		EventManager: f.Manager,
		Registry:     f.registry,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	e := f.confirmed(t, eventPayload("evt_1", "transfer.paid", `{"id":"tr_1","object":"transfer"}`))
	require.NoError(t, d.Process(context.Background(), e))
	assert.True(t, e.Processed)
}

func TestExceptionLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.Exceptions.Log(ctx, extErrors.New("first"), nil)
	require.NoError(t, err)
	assert.Nil(t, first.EventID)
	second, err := f.Exceptions.Log(ctx, externaltest.NotFound("No such customer: cus_1"), nil)
	require.NoError(t, err)

	results, err := f.Exceptions.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, second.ID, results[0].ID)
	assert.Equal(t, first.ID, results[1].ID)
	assert.JSONEq(t, `{"error":{"message":"No such customer: cus_1"}}`, string(results[0].Data))

	results, err = f.Exceptions.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
