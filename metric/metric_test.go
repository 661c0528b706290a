package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Received("new")
	m.Received("new")
	m.Received("duplicate")
	m.Validated(true)
	m.Validated(false)
	m.Processed("charge", "processed", 0.2)
	m.HandlerFailed("invoice", "payment_failed")
	m.Mirrored("customer")
	m.Notified("charge.succeeded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsValidated.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("charge", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerFailures.WithLabelValues("invoice", "payment_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ObjectsMirrored.WithLabelValues("customer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("charge.succeeded")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DispatchDuration))
}

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Received("new")
		m.Validated(true)
		m.Processed("charge", "failed", 1)
		m.HandlerFailed("charge", "succeeded")
		m.Mirrored("charge")
		m.Notified("charge.succeeded")
	})
}
