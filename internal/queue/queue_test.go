package queue

import (
	"context"
	"testing"
	"time"

	"github.com/hoopmetrics/achievements-worker/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ClaimBatch relies on SELECT ... FOR UPDATE SKIP LOCKED and MarkRetry on
// SELECT ... FOR UPDATE, which SQLite does not implement; those paths are
// exercised against Postgres in
// integration environments. The tests below cover the row-lock-free
// surface with an in-memory SQLite connection, following the pattern used
// for the shared db client.

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.QueueItem{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestBackoff_DoublesUntilCap(t *testing.T) {
	cases := map[int]time.Duration{
		0:  1 * time.Minute,
		1:  2 * time.Minute,
		2:  4 * time.Minute,
		7:  128 * time.Minute,
		8:  128 * time.Minute,
		20: 128 * time.Minute,
	}
	for attempts, want := range cases {
		if got := Backoff(attempts); got != want {
			t.Fatalf("Backoff(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestMarkDone_OnlyTransitionsProcessingRows(t *testing.T) {
	db := newTestDB(t)
	driver := New(db, 10, 10*time.Minute)
	ctx := context.Background()

	now := time.Now().UTC()
	items := []models.QueueItem{
		{EventID: "evt-1", Status: models.QueueStatusProcessing, VisibleAt: now, UpdatedAt: now},
		{EventID: "evt-2", Status: models.QueueStatusQueued, VisibleAt: now, UpdatedAt: now},
	}
	if err := db.Create(&items).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := driver.MarkDone(ctx, []int64{items[0].QueueID, items[1].QueueID}); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	var reloaded []models.QueueItem
	if err := db.Order("queue_id ASC").Find(&reloaded).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded[0].Status != models.QueueStatusDone {
		t.Fatalf("expected processing row to become done, got %s", reloaded[0].Status)
	}
	if reloaded[1].Status != models.QueueStatusQueued {
		t.Fatalf("expected queued row to remain untouched, got %s", reloaded[1].Status)
	}
}

func TestMarkDone_EmptyIsNoop(t *testing.T) {
	db := newTestDB(t)
	driver := New(db, 10, 10*time.Minute)
	if err := driver.MarkDone(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
}

func TestQueueLag_CountsOnlyVisibleQueuedRows(t *testing.T) {
	db := newTestDB(t)
	driver := New(db, 10, 10*time.Minute)
	ctx := context.Background()

	now := time.Now().UTC()
	future := now.Add(time.Hour)
	items := []models.QueueItem{
		{EventID: "evt-1", Status: models.QueueStatusQueued, VisibleAt: now.Add(-time.Minute), UpdatedAt: now},
		{EventID: "evt-2", Status: models.QueueStatusQueued, VisibleAt: future, UpdatedAt: now},
		{EventID: "evt-3", Status: models.QueueStatusDone, VisibleAt: now, UpdatedAt: now},
	}
	if err := db.Create(&items).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	lag, err := driver.QueueLag(ctx)
	if err != nil {
		t.Fatalf("QueueLag: %v", err)
	}
	if lag != 1 {
		t.Fatalf("expected lag 1, got %d", lag)
	}
}

func TestReclaimExpiredLeases_MovesStaleProcessingRowsToQueued(t *testing.T) {
	db := newTestDB(t)
	leaseTTL := 10 * time.Minute
	driver := New(db, 10, leaseTTL)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := now.Add(-leaseTTL - time.Minute)
	fresh := now.Add(-time.Minute)
	items := []models.QueueItem{
		{EventID: "evt-stale", Status: models.QueueStatusProcessing, VisibleAt: now, UpdatedAt: stale},
		{EventID: "evt-fresh", Status: models.QueueStatusProcessing, VisibleAt: now, UpdatedAt: fresh},
	}
	if err := db.Create(&items).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	reclaimed, err := driver.ReclaimExpiredLeases(ctx)
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed row, got %d", reclaimed)
	}

	var reloaded []models.QueueItem
	if err := db.Order("queue_id ASC").Find(&reloaded).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded[0].Status != models.QueueStatusQueued {
		t.Fatalf("expected stale row to be requeued, got %s", reloaded[0].Status)
	}
	if reloaded[1].Status != models.QueueStatusProcessing {
		t.Fatalf("expected fresh row to remain in processing, got %s", reloaded[1].Status)
	}
}
