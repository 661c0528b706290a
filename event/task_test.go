package event

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/external/externaltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTaskOptions(t *testing.T) {
	_, err := NewTask(TaskOptions{})
	require.Error(t, err)

	f := newFixture(t)
	task, err := NewTask(TaskOptions{
		Dispatcher: f.dispatcher,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Error(t, task.HandleTasks(context.Background()))
}

func TestReplayPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := NewTask(TaskOptions{
		Dispatcher: f.dispatcher,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	var calls int32
	f.registry.RegisterCategory("charge", countingHandler(&calls))

	unconfirmed := eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`)
	f.record(t, unconfirmed)
	f.confirm(t, unconfirmed)

	// confirmed earlier, but the handler never finished
	f.confirmed(t, eventPayload("evt_2", "charge.refunded", `{"id":"ch_2","object":"charge"}`))

	// the provider is down for this one; it stays pending
	down := eventPayload("evt_3", "charge.failed", `{"id":"ch_3","object":"charge"}`)
	f.record(t, down)
	f.provider.Fail(http.MethodGet, external.Path(external.Events, "evt_3"), externaltest.APIError("unavailable"))

	handled, err := task.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.EqualValues(t, 2, calls)

	pending, err := f.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt_3", pending[0].ID)

	handled, err = task.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, handled)
	assert.EqualValues(t, 2, calls)
}

func TestReplayPendingStopsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := NewTask(TaskOptions{
		Dispatcher:  f.dispatcher,
		Logger:      zaptest.NewLogger(t),
		MaxAttempts: 2,
	})
	require.NoError(t, err)

	var calls int32
	f.registry.RegisterCategory("invoice", HandlerFunc(func(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("invoice handler keeps failing")
	}))
	f.confirmed(t, eventPayload("evt_1", "invoice.created", `{"id":"in_1","object":"invoice"}`))

	for i := 0; i < 3; i++ {
		processed, err := task.ReplayPending(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, processed)
	}
	assert.EqualValues(t, 2, calls)

	stored, err := f.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Equal(t, 2, stored.Attempts)
	assert.Nil(t, stored.ClaimToken)

	exceptions, err := f.Exceptions.ListForEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Len(t, exceptions, 2)

	// an explicit replay still reaches the event
	require.NoError(t, f.dispatcher.HandleByID(ctx, "evt_1"))
	assert.EqualValues(t, 3, calls)
}
