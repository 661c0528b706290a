package event

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zllovesuki/stripemirror/auth"
	"github.com/zllovesuki/stripemirror/broker"
	"github.com/zllovesuki/stripemirror/spec"
	specBroker "github.com/zllovesuki/stripemirror/spec/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T, f *fixture, producer specBroker.Producer) (*Service, string) {
	t.Helper()
	a, err := auth.New(auth.Options{
		Logger:        zaptest.NewLogger(t),
		JWTSigningKey: "0123456789abcdef0123",
	})
	require.NoError(t, err)
	token, err := a.CreateTokenFromClaims(auth.Claims{ID: "operator"})
	require.NoError(t, err)

	s, err := NewService(ServiceOptions{
		Auth:         a,
		EventManager: f.Manager,
		Dispatcher:   f.dispatcher,
		Producer:     producer,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return s, "Bearer " + token
}

func do(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestWebhookHandlesInlineWithoutProducer(t *testing.T) {
	f := newFixture(t)
	s, _ := newTestService(t, f, nil)
	var calls int32
	f.registry.RegisterCategory("customer", countingHandler(&calls))

	body := eventPayload("evt_1", "customer.created", `{"id":"cus_1","object":"customer"}`)
	f.confirm(t, body)

	w := do(s.Router(), http.MethodPost, "/", "", string(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, calls)

	w = do(s.Router(), http.MethodPost, "/", "", string(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, calls)

	stored, err := f.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestWebhookEnqueuesDispatchTask(t *testing.T) {
	f := newFixture(t)
	s, _ := newTestService(t, f, f.producer)
	var calls int32
	f.registry.RegisterCategory("charge", countingHandler(&calls))

	body := eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`)
	w := do(s.Router(), http.MethodPost, "/", "", string(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, calls)

	require.Len(t, f.producer.tasks, 1)
	assert.Equal(t, spec.DispatchTask, f.producer.tasks[0].Type)
	assert.Equal(t, "evt_1", f.producer.tasks[0].EventID)
}

func TestWebhookFallsBackWhenEnqueueFails(t *testing.T) {
	f := newFixture(t)
	f.producer.taskErr = errors.New("broker unavailable")
	s, _ := newTestService(t, f, f.producer)
	var calls int32
	f.registry.RegisterCategory("charge", countingHandler(&calls))

	body := eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`)
	f.confirm(t, body)

	w := do(s.Router(), http.MethodPost, "/", "", string(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, calls)
}

func TestWebhookRejectsInvalidEnvelope(t *testing.T) {
	f := newFixture(t)
	s, _ := newTestService(t, f, nil)

	w := do(s.Router(), http.MethodPost, "/", "", `{"id":"evt_1","data":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Event envelope requires id, type and data")
}

func TestWebhookStoresEventWhenHandlingFails(t *testing.T) {
	f := newFixture(t)
	s, _ := newTestService(t, f, nil)

	// unknown to the provider: stored, then found invalid
	body := eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`)
	w := do(s.Router(), http.MethodPost, "/", "", string(body))
	assert.Equal(t, http.StatusOK, w.Code)

	stored, err := f.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored.Valid)
	assert.False(t, *stored.Valid)
}

func TestOperatorRoutes(t *testing.T) {
	f := newFixture(t)
	s, token := newTestService(t, f, nil)
	router := s.OperatorRouter()
	ctx := context.Background()

	w := do(router, http.MethodGet, "/evt_1", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodGet, "/evt_1", token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge"}`)
	f.record(t, body)
	w = do(router, http.MethodGet, "/evt_1", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"evt_1"`)

	var calls int32
	f.registry.RegisterCategory("charge", countingHandler(&calls))
	f.confirm(t, body)
	w = do(router, http.MethodPost, "/evt_1/replay", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, calls)

	_, err := f.Exceptions.Log(ctx, errors.New("handler failed"), &Event{ID: "evt_1"})
	require.NoError(t, err)
	w = do(router, http.MethodGet, "/evt_1/exceptions", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "handler failed")

	w = do(router, http.MethodGet, "/exceptions?limit=0", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(router, http.MethodGet, "/exceptions?limit=5", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "handler failed")
}

func TestServiceWithMemoryBroker(t *testing.T) {
	f := newFixture(t)
	b := broker.NewMemoryBroker()
	defer b.Close()
	s, _ := newTestService(t, f, b)
	task, err := NewTask(TaskOptions{
		Dispatcher: f.dispatcher,
		Consumer:   b,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, task.HandleTasks(ctx))

	var calls int32
	f.registry.RegisterCategory("invoice", countingHandler(&calls))
	body := eventPayload("evt_1", "invoice.paid", `{"id":"in_1","object":"invoice"}`)
	f.confirm(t, body)

	w := do(s.Router(), http.MethodPost, "/", "", string(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		stored, err := f.Get(ctx, "evt_1")
		return err == nil && stored != nil && stored.Processed
	}, time.Second*5, time.Millisecond*20)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
