// Package httptransport assembles the public HTTP surface: proposal and
// ledger routes, health probes and the Prometheus scrape endpoint. Business
// logic stays in the domain services; this layer only mounts them.
package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ledgerhandler "assent/internal/ledger/handler"
	proposalhandler "assent/internal/proposal/handler"
	"assent/pkg/platform/httputil"
)

// HealthChecker reports the readiness of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps carries the pre-built handlers and optional health checks.
type Deps struct {
	Proposals *proposalhandler.Handler
	Ledger    *ledgerhandler.Handler

	// Checks maps a dependency name to its health probe; nil values are
	// skipped so optional backends (Redis, Kafka) cost nothing when off.
	Checks map[string]HealthChecker
}

// NewRouter wires all public endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleLiveness)
	r.Get("/readyz", handleReadiness(deps.Checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	deps.Proposals.Register(r)
	deps.Ledger.Register(r)

	return r
}

func handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReadiness(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Health(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		httputil.WriteJSON(w, status, result)
	}
}
