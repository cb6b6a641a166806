package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/floe/internal/config"
	"github.com/pitabwire/floe/internal/flow"
	"github.com/pitabwire/floe/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config     *config.Config
	Controller *flow.Controller
	Metrics    *observability.Metrics

	// Authenticate wraps the flow routes. Nil disables authentication,
	// which is only sensible in tests.
	Authenticate func(http.Handler) http.Handler

	// Readiness configures the /ready endpoint checks.
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass
// authentication.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(TenantContext(deps.Config.Identity))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/flows/{flowType}", handleFlowInitialize(deps.Controller))
		r.Get("/flows", handleFlowList(deps.Controller))
		r.Get("/flows/{flowID}", handleFlowStatus(deps.Controller))
		r.Post("/flows/{flowID}/phases/{phaseName}", handleFlowExecutePhase(deps.Controller))
		r.Post("/flows/{flowID}/resume", handleFlowResume(deps.Controller))
		r.Post("/flows/{flowID}/pause", handleFlowPause(deps.Controller))
		r.Delete("/flows/{flowID}", handleFlowDelete(deps.Controller))
		r.Get("/flows/{flowID}/audit", handleFlowAudit(deps.Controller))
	})

	return r
}
