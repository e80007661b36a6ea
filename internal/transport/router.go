package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/osoko/pressline/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport
// layer. MetricsHandler and Readiness may be zero valued; the corresponding
// endpoints then degrade gracefully.
type Dependencies struct {
	Runner         Runner
	WorkflowNames  func() []string
	Logger         *zap.Logger
	Readiness      observability.ReadinessChecks
	MetricsHandler http.Handler
	HandlerTimeout time.Duration
}

// NewRouter creates a chi.Router with the middleware pipeline and all route
// registrations. Health, readiness, and metrics bypass request logging.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(deps.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/v1/runs", handleRunStart(deps.Runner))
		r.Post("/v1/runs/{runID}/resume", handleRunResume(deps.Runner))
		r.Get("/v1/runs/{runID}", handleRunGet(deps.Runner))
		r.Get("/v1/runs/{runID}/steps", handleRunSteps(deps.Runner))
		r.Get("/v1/runs/{runID}/compensations", handleRunCompensations(deps.Runner))

		workflows := deps.WorkflowNames
		if workflows == nil {
			workflows = func() []string { return nil }
		}
		r.Get("/v1/workflows", handleWorkflowList(workflows))
	})

	return r
}
