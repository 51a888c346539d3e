// Package queue implements the leasing contract over the event_queue
// table: batch claiming with skip-locked row leases, completion, and the
// retry/backoff state machine.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hoopmetrics/achievements-worker/internal/models"
	"github.com/hoopmetrics/achievements-worker/internal/repo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Driver leases and retires rows in the event_queue table.
type Driver struct {
	repo.Base
	maxAttempts int
	leaseTTL    time.Duration
}

// New constructs a Driver bound to db, enforcing maxAttempts before an
// item transitions to the error state and leaseTTL for lease reclamation
// by the janitor.
func New(db *gorm.DB, maxAttempts int, leaseTTL time.Duration) *Driver {
	return &Driver{Base: repo.NewBase(db), maxAttempts: maxAttempts, leaseTTL: leaseTTL}
}

// Claimed is a queue item leased for processing, paired with its
// underlying event id.
type Claimed struct {
	QueueID int64
	EventID string
}

// ClaimBatch atomically selects up to limit queued-and-visible rows,
// locking them with SKIP LOCKED so concurrent callers never claim
// overlapping rows, and transitions them to processing.
func (d *Driver) ClaimBatch(ctx context.Context, limit int) ([]Claimed, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []Claimed
	err := d.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var items []models.QueueItem
		now := time.Now().UTC()

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND visible_at <= ?", models.QueueStatusQueued, now).
			Order("queue_id ASC").
			Limit(limit).
			Find(&items).Error; err != nil {
			return fmt.Errorf("selecting claimable rows: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.QueueID)
			claimed = append(claimed, Claimed{QueueID: item.QueueID, EventID: item.EventID})
		}

		if err := tx.Model(&models.QueueItem{}).
			Where("queue_id IN ?", ids).
			Updates(map[string]any{
				"status":     models.QueueStatusProcessing,
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("marking claimed rows processing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkDone bulk-transitions processing rows to done. It is a no-op for
// ids that are not currently in processing.
func (d *Driver) MarkDone(ctx context.Context, queueIDs []int64) error {
	if len(queueIDs) == 0 {
		return nil
	}
	return d.DB(ctx).Model(&models.QueueItem{}).
		Where("queue_id IN ? AND status = ?", queueIDs, models.QueueStatusProcessing).
		Updates(map[string]any{
			"status":     models.QueueStatusDone,
			"updated_at": time.Now().UTC(),
		}).Error
}

// MarkRetry performs an atomic read-modify-write on a single row:
// increments attempts, and either reschedules it with exponential backoff
// or exhausts it to the error state.
func (d *Driver) MarkRetry(ctx context.Context, queueID int64, errMsg string) error {
	return d.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("queue_id = ?", queueID).
			First(&item).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return fmt.Errorf("locking queue row %d: %w", queueID, err)
		}

		attempts := item.Attempts + 1
		now := time.Now().UTC()
		updates := map[string]any{
			"attempts":   attempts,
			"last_error": errMsg,
			"updated_at": now,
		}

		if attempts >= d.maxAttempts {
			updates["status"] = models.QueueStatusError
		} else {
			updates["status"] = models.QueueStatusQueued
			updates["visible_at"] = now.Add(Backoff(attempts))
		}

		return tx.Model(&models.QueueItem{}).
			Where("queue_id = ?", queueID).
			Updates(updates).Error
	})
}

// QueueLag counts rows that are queued and currently visible. It feeds the
// health endpoint and the supervisor's lag gauge, never control decisions.
func (d *Driver) QueueLag(ctx context.Context) (int64, error) {
	var count int64
	err := d.DB(ctx).Model(&models.QueueItem{}).
		Where("status = ? AND visible_at <= ?", models.QueueStatusQueued, time.Now().UTC()).
		Count(&count).Error
	return count, err
}

// ReclaimExpiredLeases transitions processing rows whose updated_at is
// older than the configured lease TTL back to queued, recording the
// expiry in last_error, so a crashed worker's leases eventually become
// visible again. It returns the number of rows reclaimed.
func (d *Driver) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-d.leaseTTL)
	result := d.DB(ctx).Model(&models.QueueItem{}).
		Where("status = ? AND updated_at < ?", models.QueueStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     models.QueueStatusQueued,
			"last_error": "lease expired",
			"visible_at": time.Now().UTC(),
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// Backoff returns the retry delay for the given attempt count:
// 2^min(a,7) minutes.
func Backoff(attempts int) time.Duration {
	exp := attempts
	if exp > 7 {
		exp = 7
	}
	if exp < 0 {
		exp = 0
	}
	minutes := 1 << uint(exp)
	return time.Duration(minutes) * time.Minute
}
