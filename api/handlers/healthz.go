package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hoopmetrics/achievements-worker/api/responses"
	"github.com/hoopmetrics/achievements-worker/pkg/config"
	"github.com/hoopmetrics/achievements-worker/pkg/logger"
)

// QueueLagReader reports the number of queued-and-visible event_queue
// rows, used as the health endpoint's liveness signal.
type QueueLagReader interface {
	QueueLag(ctx context.Context) (int64, error)
}

type healthzResponse struct {
	Status   string    `json:"status"`
	QueueLag int64     `json:"queueLag"`
	Time     time.Time `json:"time"`
}

// Healthz reports the worker's queue lag. A lag read failure is surfaced
// as a 503 so an orchestrator can treat the instance as unhealthy
// without guessing at the cause from logs alone.
func Healthz(cfg *config.Config, logg *logger.Logger, queue QueueLagReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logg.WithFields(r.Context(), map[string]any{
			"env":  cfg.App.Env,
			"path": r.URL.Path,
		})

		lag, err := queue.QueueLag(ctx)
		if err != nil {
			logg.Error(ctx, "health.check.queue_lag_failed", err)
			responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, healthzResponse{
				Status:   "unhealthy",
				QueueLag: -1,
				Time:     time.Now().UTC(),
			})
			return
		}

		responses.WriteSuccess(w, healthzResponse{
			Status:   "ok",
			QueueLag: lag,
			Time:     time.Now().UTC(),
		})
	}
}
