package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zllovesuki/stripemirror/dbtest"
	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/external/externaltest"
	"github.com/zllovesuki/stripemirror/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Unix(1600000000, 0).UTC()

type recordingProducer struct {
	mu            sync.Mutex
	notifications []*spec.Notification
	tasks         []*spec.Task
	taskErr       error
}

func (p *recordingProducer) Close() {}

func (p *recordingProducer) SendNotification(n *spec.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
	return nil
}

func (p *recordingProducer) SendTask(t *spec.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.taskErr != nil {
		return p.taskErr
	}
	p.tasks = append(p.tasks, t)
	return nil
}

func (p *recordingProducer) sent() []*spec.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*spec.Notification(nil), p.notifications...)
}

type fixture struct {
	*Manager
	provider   *externaltest.Provider
	registry   *Registry
	producer   *recordingProducer
	dispatcher *Dispatcher
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider: externaltest.New(),
		registry: NewRegistry(),
		producer: &recordingProducer{},
		clock:    now,
	}
	m, err := NewManager(ManagerOptions{
		Provider: f.provider,
		DB:       dbtest.New(t),
		Logger:   zaptest.NewLogger(t),
		Clock: func() time.Time {
			return f.clock
		},
	})
	require.NoError(t, err)
	f.Manager = m

	d, err := NewDispatcher(DispatcherOptions{
		EventManager: m,
		Registry:     f.registry,
		Producer:     f.producer,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	f.dispatcher = d
	return f
}

func eventPayload(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"livemode":false,"pending_webhooks":1,"data":{"object":%s}}`, id, eventType, object))
}

// confirm makes the provider vouch for body. pending_webhooks differs from
// the delivered copy the way it does on a real retrieve.
func (f *fixture) confirm(t *testing.T, body []byte) {
	t.Helper()
	obj, err := external.DecodeObject(body)
	require.NoError(t, err)
	obj["pending_webhooks"] = json.Number("0")
	f.provider.Set(external.Path(external.Events, obj.ID()), obj)
}

func (f *fixture) record(t *testing.T, body []byte) *Event {
	t.Helper()
	e, created, err := f.Record(context.Background(), body)
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func TestManagerOptions(t *testing.T) {
	_, err := NewManager(ManagerOptions{})
	require.Error(t, err)

	_, err = NewManager(ManagerOptions{
		Provider: externaltest.New(),
		Logger:   zaptest.NewLogger(t),
	})
	require.Error(t, err)
}

func TestRecordNewAndDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := eventPayload("evt_1", "invoice.created", `{"id":"in_1","object":"invoice","customer":"cus_1"}`)

	e, created, err := f.Record(ctx, body)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "invoice.created", e.Type)
	require.NotNil(t, e.CustomerID)
	assert.Equal(t, "cus_1", *e.CustomerID)
	assert.Nil(t, e.Valid)
	assert.False(t, e.Processed)

	again, created, err := f.Record(ctx, body)
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, again)
	assert.Equal(t, "evt_1", again.ID)

	var count int64
	require.NoError(t, f.DB.Model(&Event{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordCustomerEventLinksItself(t *testing.T) {
	f := newFixture(t)
	e := f.record(t, eventPayload("evt_1", "customer.updated", `{"id":"cus_9","object":"customer"}`))
	require.NotNil(t, e.CustomerID)
	assert.Equal(t, "cus_9", *e.CustomerID)
}

func TestRecordRejectsInvalidEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bodies := []string{
		`not json`,
		`{"id":"evt_1"}`,
		`{"type":"charge.succeeded","data":{"object":{}}}`,
		`{"id":"evt_1","type":"charge.succeeded","data":5}`,
	}
	for _, b := range bodies {
		_, _, err := f.Record(ctx, []byte(b))
		assert.ErrorIs(t, err, ErrInvalidEnvelope, b)
	}

	var count int64
	require.NoError(t, f.DB.Model(&Event{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestEventAccessors(t *testing.T) {
	f := newFixture(t)
	e := f.record(t, eventPayload("evt_1", "customer.subscription.updated", `{"id":"sub_1","object":"subscription"}`))

	assert.Equal(t, "customer", e.Category())
	assert.Equal(t, "subscription.updated", e.Subtype())
	assert.Nil(t, e.Message())
	assert.Nil(t, e.Data())
	assert.Nil(t, e.PreviousAttributes())

	valid := true
	e.Valid = &valid
	assert.Equal(t, "sub_1", e.Data().ID())
	assert.Nil(t, e.PreviousAttributes())

	bare := &Event{Type: "ping"}
	assert.Equal(t, "ping", bare.Category())
	assert.Equal(t, "", bare.Subtype())
}

func TestPendingAndListForCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unconfirmed := f.record(t, eventPayload("evt_1", "charge.succeeded", `{"id":"ch_1","object":"charge","customer":"cus_1"}`))
	confirmed := f.record(t, eventPayload("evt_2", "charge.succeeded", `{"id":"ch_2","object":"charge","customer":"cus_1"}`))
	invalid := f.record(t, eventPayload("evt_3", "charge.succeeded", `{"id":"ch_3","object":"charge","customer":"cus_2"}`))
	done := f.record(t, eventPayload("evt_4", "charge.succeeded", `{"id":"ch_4","object":"charge","customer":"cus_2"}`))

	require.NoError(t, f.DB.Model(confirmed).Update("valid", true).Error)
	require.NoError(t, f.DB.Model(invalid).Update("valid", false).Error)
	require.NoError(t, f.DB.Model(done).Updates(map[string]interface{}{"valid": true, "processed": true}).Error)

	pending, err := f.Pending(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0)
	for _, e := range pending {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{unconfirmed.ID, confirmed.ID}, ids)

	events, err := f.ListForCustomer(ctx, "cus_2", 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCanonicalize(t *testing.T) {
	a, err := Canonicalize([]byte(`{"b":1.50,"a":[1e2,"x<y"],"c":{"z":null,"y":true}}`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{ "c": {"y": true, "z": null}, "a": [100, "x<y"], "b": 1.5 }`))
	require.NoError(t, err)

	assert.Equal(t, `{"a":[100,"x<y"],"b":1.5,"c":{"y":true,"z":null}}`, string(a))
	assert.Equal(t, string(a), string(b))

	_, err = Canonicalize([]byte(`{`))
	assert.Error(t, err)
}
