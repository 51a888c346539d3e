package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hoopmetrics/achievements-worker/api/handlers"
	"github.com/hoopmetrics/achievements-worker/api/middleware"
	"github.com/hoopmetrics/achievements-worker/pkg/config"
	"github.com/hoopmetrics/achievements-worker/pkg/logger"
)

// NewRouter builds the health-check surface: a single liveness endpoint
// reporting queue lag, behind the platform's standard request-id,
// logging, recovery, and CORS middleware.
func NewRouter(cfg *config.Config, logg *logger.Logger, queue handlers.QueueLagReader) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", handlers.Healthz(cfg, logg, queue))

	return r
}
