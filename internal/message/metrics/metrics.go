package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the message module.
type Metrics struct {
	MessagesEnqueued  prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesFailed    prometheus.Counter
	MessagesRetried   prometheus.Counter
}

// New creates and registers the message metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		MessagesEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_messages_enqueued_total",
			Help: "Total number of messages enqueued",
		}),
		MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_messages_delivered_total",
			Help: "Total number of messages delivered successfully",
		}),
		MessagesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_messages_failed_total",
			Help: "Total number of delivery failures recorded",
		}),
		MessagesRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_messages_retried_total",
			Help: "Total number of messages marked for retry",
		}),
	}
}

func (m *Metrics) IncEnqueued() {
	if m == nil {
		return
	}
	m.MessagesEnqueued.Inc()
}

func (m *Metrics) IncDelivered() {
	if m == nil {
		return
	}
	m.MessagesDelivered.Inc()
}

func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	m.MessagesFailed.Inc()
}

func (m *Metrics) IncRetried() {
	if m == nil {
		return
	}
	m.MessagesRetried.Inc()
}
