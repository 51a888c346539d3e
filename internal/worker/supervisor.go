// Package worker implements the supervisor loop that drains the event
// queue: claim a batch, load each claimed event, run it through the
// pipeline, and retire or retry each item based on the outcome.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hoopmetrics/achievements-worker/internal/models"
	"github.com/hoopmetrics/achievements-worker/internal/queue"
	"github.com/hoopmetrics/achievements-worker/pkg/logger"
	"github.com/hoopmetrics/achievements-worker/pkg/metrics"
	"gorm.io/gorm"
)

// Processor runs the per-event sequence; satisfied by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, event models.Event) error
}

// QueueDriver is the subset of queue.Driver the supervisor drives.
type QueueDriver interface {
	ClaimBatch(ctx context.Context, limit int) ([]queue.Claimed, error)
	MarkDone(ctx context.Context, queueIDs []int64) error
	MarkRetry(ctx context.Context, queueID int64, errMsg string) error
	QueueLag(ctx context.Context) (int64, error)
}

// Supervisor repeatedly claims batches from the queue and drives them
// through a Processor until its context is canceled.
type Supervisor struct {
	db           *gorm.DB
	queue        QueueDriver
	pipeline     Processor
	logg         *logger.Logger
	metrics      *metrics.PipelineMetrics
	batchSize    int
	pollInterval time.Duration
}

// Params configures a Supervisor.
type Params struct {
	DB           *gorm.DB
	Queue        QueueDriver
	Pipeline     Processor
	Logger       *logger.Logger
	Metrics      *metrics.PipelineMetrics
	BatchSize    int
	PollInterval time.Duration
}

const maxBackoff = 30 * time.Second

// New constructs a Supervisor from its dependencies, applying sane
// defaults for batch size and poll interval when unset.
func New(params Params) *Supervisor {
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	pollInterval := params.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Supervisor{
		db:           params.DB,
		queue:        params.Queue,
		pipeline:     params.Pipeline,
		logg:         params.Logger,
		metrics:      params.Metrics,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Run drains the queue until ctx is canceled. An outer-loop exception
// (a failure claiming a batch or loading events) backs off up to
// maxBackoff rather than busy-looping against a degraded dependency.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.pollInterval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		processed, err := s.runOnce(ctx)
		if err != nil {
			s.logg.Error(ctx, "supervisor cycle failed", err)
			if !s.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = s.pollInterval

		if processed == 0 {
			if !s.sleep(ctx, s.pollInterval) {
				return ctx.Err()
			}
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runOnce claims a batch, processes each item, and retires it. It
// returns the number of items claimed, so the caller can skip the
// idle poll sleep when there is more work immediately available.
func (s *Supervisor) runOnce(ctx context.Context) (int, error) {
	if lag, err := s.queue.QueueLag(ctx); err == nil {
		s.metrics.SetQueueLag(lag)
	}

	claimed, err := s.queue.ClaimBatch(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claiming batch: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	events, err := s.loadEvents(ctx, claimed)
	if err != nil {
		return 0, fmt.Errorf("loading claimed events: %w", err)
	}

	var done []int64
	for _, item := range claimed {
		event, ok := events[item.EventID]
		if !ok {
			s.logg.Warn(ctx, fmt.Sprintf("queue item %d references missing event %s, retrying", item.QueueID, item.EventID))
			if err := s.queue.MarkRetry(ctx, item.QueueID, "event row not found"); err != nil {
				s.logg.Error(ctx, "marking retry for missing event failed", err)
			}
			continue
		}

		start := time.Now()
		err := s.pipeline.Process(ctx, event)
		s.metrics.ObserveProcessDuration(time.Since(start))
		if err != nil {
			s.logg.Error(ctx, fmt.Sprintf("processing event %s failed", item.EventID), err)
			s.metrics.IncEventsProcessed("retry")
			if retryErr := s.queue.MarkRetry(ctx, item.QueueID, err.Error()); retryErr != nil {
				s.logg.Error(ctx, "marking retry failed", retryErr)
			}
			continue
		}
		s.metrics.IncEventsProcessed("done")
		done = append(done, item.QueueID)
	}

	if err := s.queue.MarkDone(ctx, done); err != nil {
		return len(claimed), fmt.Errorf("marking batch done: %w", err)
	}
	return len(claimed), nil
}

func (s *Supervisor) loadEvents(ctx context.Context, claimed []queue.Claimed) (map[string]models.Event, error) {
	ids := make([]string, 0, len(claimed))
	for _, item := range claimed {
		ids = append(ids, item.EventID)
	}

	var rows []models.Event
	if err := s.db.WithContext(ctx).Where("event_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]models.Event, len(rows))
	for _, row := range rows {
		byID[row.EventID] = row
	}
	return byID, nil
}
