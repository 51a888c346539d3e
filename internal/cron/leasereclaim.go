package cron

import (
	"context"
	"fmt"

	"github.com/hoopmetrics/achievements-worker/pkg/logger"
)

// LeaseReclaimer puts queue items whose processing lease has expired back
// into the queued state so another worker can retry them.
type LeaseReclaimer interface {
	ReclaimExpiredLeases(ctx context.Context) (int64, error)
}

// LeaseReclaimJob wraps a LeaseReclaimer as a registered cron Job.
type LeaseReclaimJob struct {
	reclaimer LeaseReclaimer
	logg      *logger.Logger
}

// NewLeaseReclaimJob constructs a LeaseReclaimJob bound to reclaimer.
func NewLeaseReclaimJob(reclaimer LeaseReclaimer, logg *logger.Logger) *LeaseReclaimJob {
	return &LeaseReclaimJob{reclaimer: reclaimer, logg: logg}
}

// Name identifies the job in logs and metrics.
func (j *LeaseReclaimJob) Name() string { return "lease_reclaim" }

// Run reclaims every queue item whose lease has expired.
func (j *LeaseReclaimJob) Run(ctx context.Context) error {
	reclaimed, err := j.reclaimer.ReclaimExpiredLeases(ctx)
	if err != nil {
		return fmt.Errorf("reclaiming expired leases: %w", err)
	}
	if reclaimed > 0 && j.logg != nil {
		j.logg.Info(j.logg.WithField(ctx, "reclaimed", reclaimed), "reclaimed expired queue leases")
	}
	return nil
}
