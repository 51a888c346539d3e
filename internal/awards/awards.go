// Package awards implements the award ledger: idempotent award creation
// keyed by the (player_id, rule_id, scope_key, level) tuple, and
// asset-URL attachment after a badge has been rendered.
package awards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hoopmetrics/achievements-worker/internal/canonjson"
	"github.com/hoopmetrics/achievements-worker/internal/models"
	"github.com/hoopmetrics/achievements-worker/internal/repo"
	"github.com/hoopmetrics/achievements-worker/pkg/metrics"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const uniqueViolationCode = "23505"

// Ledger records issued awards and their rendered-asset URLs.
type Ledger struct {
	repo.Base
	issuer  string
	version int
	metrics *metrics.PipelineMetrics
}

// New constructs a Ledger bound to db. issuer is stamped on every award
// this process creates; version lets a future rendering format bump
// existing rows without reinterpreting old ones.
func New(db *gorm.DB, issuer string, version int) *Ledger {
	return &Ledger{Base: repo.NewBase(db), issuer: issuer, version: version}
}

// SetMetrics attaches a PipelineMetrics sink. Optional; unset leaves
// award issuance unmeasured.
func (l *Ledger) SetMetrics(m *metrics.PipelineMetrics) {
	l.metrics = m
}

// NewAward describes the data needed to attempt an award insert.
type NewAward struct {
	PlayerID string
	RuleID   int64
	ScopeKey *string
	Level    int
	Title    string
	Tier     string
	SeasonID *string
	MatchID  *string
	PerGame  map[string]any
	Season   map[string]any
	Career   map[string]any
	Rule     map[string]any
}

// InsertAward attempts to insert a new award row. A conflict on the
// idempotency tuple is the normal "already awarded" signal: it returns
// an empty award id and a nil error, not a failure.
func (l *Ledger) InsertAward(ctx context.Context, data NewAward) (string, error) {
	level := data.Level
	if level == 0 {
		level = 1
	}

	stats, err := canonjson.Marshal(map[string]any{
		"per_game":      data.PerGame,
		"season":        data.Season,
		"career":        data.Career,
		"rule_predicate": data.Rule,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalizing award stats snapshot: %w", err)
	}

	row := models.PlayerAward{
		AwardID:   uuid.NewString(),
		PlayerID:  data.PlayerID,
		RuleID:    data.RuleID,
		ScopeKey:  data.ScopeKey,
		Level:     level,
		Title:     data.Title,
		Tier:      data.Tier,
		SeasonID:  data.SeasonID,
		MatchID:   data.MatchID,
		AwardedAt: time.Now().UTC(),
		Stats:     stats,
		Issuer:    l.issuer,
		Version:   l.version,
	}

	err = l.DB(ctx).Create(&row).Error
	if err == nil {
		l.metrics.IncAwardsIssued()
		return row.AwardID, nil
	}
	if isUniqueViolation(err) {
		return "", nil
	}
	return "", fmt.Errorf("inserting award for player %s rule %d: %w", data.PlayerID, data.RuleID, err)
}

// AttachAssetUrl sets asset_svg_url unconditionally: concurrent
// re-renders of the same award are expected to compute the same URL, so
// last-writer-wins is safe.
func (l *Ledger) AttachAssetUrl(ctx context.Context, awardID, url string) error {
	err := l.DB(ctx).Model(&models.PlayerAward{}).
		Where("award_id = ?", awardID).
		Update("asset_svg_url", url).Error
	if err != nil {
		return fmt.Errorf("attaching asset url to award %s: %w", awardID, err)
	}
	return nil
}

// isUniqueViolation inspects err for Postgres SQLSTATE 23505, the
// idempotency tuple's unique-constraint conflict, recognizing both the
// pgx and lib/pq error wrapping the driver may produce.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode
	}
	return false
}
