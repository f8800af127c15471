package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the entity store core. Labelled
// by category prefix so the four-odd aggregate types share one registry.
type Metrics struct {
	EventsAppended        *prometheus.CounterVec
	SagaDuplicates        *prometheus.CounterVec
	CompensationsRecorded *prometheus.CounterVec
	ProjectionReady       *prometheus.GaugeVec
	ProjectionRestarts    *prometheus.CounterVec
	CatchupSeconds        *prometheus.HistogramVec
}

// New creates and registers all entity store metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		EventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_es_events_appended_total",
			Help: "Total number of domain events appended to the log",
		}, []string{"category"}),
		SagaDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_es_saga_duplicates_total",
			Help: "Total number of saves resolved as saga idempotency no-ops",
		}, []string{"category"}),
		CompensationsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_es_compensations_total",
			Help: "Total number of saga compensation events recorded",
		}, []string{"category"}),
		ProjectionReady: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meridian_es_projection_ready",
			Help: "Whether the category projection has completed catch-up (1) or not (0)",
		}, []string{"category"}),
		ProjectionRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_es_projection_restarts_total",
			Help: "Total number of projection subscription restarts",
		}, []string{"category"}),
		CatchupSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meridian_es_projection_catchup_seconds",
			Help:    "Duration of projection catch-up from stream start",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"category"}),
	}
}

// All methods are nil-safe so wiring metrics stays optional in tests.

func (m *Metrics) AddEventsAppended(category string, n int) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) IncSagaDuplicates(category string) {
	if m == nil {
		return
	}
	m.SagaDuplicates.WithLabelValues(category).Inc()
}

func (m *Metrics) IncCompensations(category string) {
	if m == nil {
		return
	}
	m.CompensationsRecorded.WithLabelValues(category).Inc()
}

func (m *Metrics) SetProjectionReady(category string, ready bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ready {
		v = 1.0
	}
	m.ProjectionReady.WithLabelValues(category).Set(v)
}

func (m *Metrics) IncProjectionRestarts(category string) {
	if m == nil {
		return
	}
	m.ProjectionRestarts.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveCatchup(category string, seconds float64) {
	if m == nil {
		return
	}
	m.CatchupSeconds.WithLabelValues(category).Observe(seconds)
}
