// Package httpapi is the thin operational HTTP layer: health and metrics.
// Business traffic reaches the services through sagas and the event log,
// not through this router.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meridian/internal/platform/metrics"
	"meridian/pkg/platform/httputil"
)

// HealthChecker reports whether a projection pipeline is live and caught up.
type HealthChecker interface {
	Healthy() bool
}

// NewRouter wires the operational endpoints. Readiness follows the
// projections: a pod whose read models are still catching up must not
// receive query traffic.
func NewRouter(appMetrics *metrics.Metrics, checks map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	if appMetrics != nil {
		r.Use(appMetrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		body := make(map[string]string, len(checks))
		for name, check := range checks {
			if check.Healthy() {
				body[name] = "ready"
				continue
			}
			body[name] = "catching up"
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, body)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
