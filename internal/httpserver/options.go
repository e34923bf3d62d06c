package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reachmetrics/reachmetrics-api/internal/health"
	"github.com/reachmetrics/reachmetrics-api/internal/httpmw"
	"github.com/reachmetrics/reachmetrics-api/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	ClientIPOpts httpmw.ClientIPOptions

	// APIRoutes registers the business routes (already wrapped by the
	// security pipeline) on the router.
	APIRoutes func(chi.Router)

	// MetricsMW is the prometheus instrumentation middleware.
	MetricsMW func(http.Handler) http.Handler

	Health    health.Probe
	Readiness health.Probe

	// OnPanic is called when the outer recovery middleware fires.
	OnPanic func()
}
