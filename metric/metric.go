package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stripemirror"

// Metrics holds the counters shared by ingestion, dispatch and mirroring.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	EventsValidated   *prometheus.CounterVec
	EventsProcessed   *prometheus.CounterVec
	HandlerFailures   *prometheus.CounterVec
	ObjectsMirrored   *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	NotificationsSent *prometheus.CounterVec
}

// New creates the metrics and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Webhook events received, by whether they were new or duplicate deliveries",
			},
			[]string{"result"},
		),
		EventsValidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "validated_total",
				Help:      "Events confirmed against the provider, by outcome",
			},
			[]string{"result"},
		),
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Events dispatched to handlers, by category and outcome",
			},
			[]string{"category", "result"},
		),
		HandlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handlers",
				Name:      "failures_total",
				Help:      "Handler invocations that returned an error or panicked",
			},
			[]string{"category", "subtype"},
		),
		ObjectsMirrored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mirror",
				Name:      "objects_total",
				Help:      "Provider objects written to the local mirror, by kind",
			},
			[]string{"kind"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent running all handlers for an event",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "sent_total",
				Help:      "Notifications handed to the broker, by kind",
			},
			[]string{"kind"},
		),
	}
	collectors := []prometheus.Collector{
		m.EventsReceived,
		m.EventsValidated,
		m.EventsProcessed,
		m.HandlerFailures,
		m.ObjectsMirrored,
		m.DispatchDuration,
		m.NotificationsSent,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Received(result string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(result).Inc()
}

func (m *Metrics) Validated(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.EventsValidated.WithLabelValues(result).Inc()
}

func (m *Metrics) Processed(category, result string, seconds float64) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(category, result).Inc()
	m.DispatchDuration.WithLabelValues(category).Observe(seconds)
}

func (m *Metrics) HandlerFailed(category, subtype string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(category, subtype).Inc()
}

func (m *Metrics) Mirrored(kind string) {
	if m == nil {
		return
	}
	m.ObjectsMirrored.WithLabelValues(kind).Inc()
}

func (m *Metrics) Notified(kind string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(kind).Inc()
}
