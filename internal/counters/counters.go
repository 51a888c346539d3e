// Package counters implements the career/season aggregate store: atomic
// upserts keyed by (player_id, scope, season_id) and the combined fetch
// the pipeline builds its evaluation context from.
package counters

import (
	"context"
	"fmt"
	"time"

	"github.com/hoopmetrics/achievements-worker/internal/models"
	"github.com/hoopmetrics/achievements-worker/internal/repo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store aggregates per-event stats into player_counters rows.
type Store struct {
	repo.Base
}

// New constructs a Store bound to db.
func New(db *gorm.DB) *Store {
	return &Store{Base: repo.NewBase(db)}
}

// UpdateCareer upserts the career-scoped row for playerID with stats from
// a single game.
func (s *Store) UpdateCareer(ctx context.Context, playerID string, stats models.PerGameStats) error {
	return s.upsert(ctx, playerID, models.CounterScopeCareer, nil, stats)
}

// UpdateSeason upserts the season-scoped row for (playerID, seasonID) with
// stats from a single game.
func (s *Store) UpdateSeason(ctx context.Context, playerID, seasonID string, stats models.PerGameStats) error {
	return s.upsert(ctx, playerID, models.CounterScopeSeason, &seasonID, stats)
}

func (s *Store) upsert(ctx context.Context, playerID string, scope models.CounterScope, seasonID *string, stats models.PerGameStats) error {
	flags := models.DeriveFlags(stats)
	now := time.Now().UTC()

	row := models.PlayerCounter{
		PlayerID:    playerID,
		Scope:       scope,
		SeasonID:    seasonID,
		GamesPlayed: 1,

		PointsTotal:  stats.Points,
		AstTotal:     stats.Ast,
		RebTotal:     stats.Reb,
		StlTotal:     stats.Stl,
		BlkTotal:     stats.Blk,
		TovTotal:     stats.Tov,
		MinutesTotal: stats.Minutes,
		FgmTotal:     stats.Fgm,
		FgaTotal:     stats.Fga,
		TpmTotal:     stats.Tpm,
		TpaTotal:     stats.Tpa,
		FtmTotal:     stats.Ftm,
		FtaTotal:     stats.Fta,

		MaxPtsGame: stats.Points,
		MaxAstGame: stats.Ast,
		MaxRebGame: stats.Reb,
		MaxStlGame: stats.Stl,
		MaxBlkGame: stats.Blk,

		Has50PtGame:     flags.Has50PtGame,
		HasTripleDouble: flags.HasTripleDouble,
		HasDoubleDouble: flags.HasDoubleDouble,

		UpdatedAt: now,
	}

	err := s.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}, {Name: "scope"}, {Name: "season_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"games_played":      gorm.Expr("player_counters.games_played + 1"),
			"points_total":      gorm.Expr("player_counters.points_total + ?", stats.Points),
			"ast_total":         gorm.Expr("player_counters.ast_total + ?", stats.Ast),
			"reb_total":         gorm.Expr("player_counters.reb_total + ?", stats.Reb),
			"stl_total":         gorm.Expr("player_counters.stl_total + ?", stats.Stl),
			"blk_total":         gorm.Expr("player_counters.blk_total + ?", stats.Blk),
			"tov_total":         gorm.Expr("player_counters.tov_total + ?", stats.Tov),
			"minutes_total":     gorm.Expr("player_counters.minutes_total + ?", stats.Minutes),
			"fgm_total":         gorm.Expr("player_counters.fgm_total + ?", stats.Fgm),
			"fga_total":         gorm.Expr("player_counters.fga_total + ?", stats.Fga),
			"tpm_total":         gorm.Expr("player_counters.tpm_total + ?", stats.Tpm),
			"tpa_total":         gorm.Expr("player_counters.tpa_total + ?", stats.Tpa),
			"ftm_total":         gorm.Expr("player_counters.ftm_total + ?", stats.Ftm),
			"fta_total":         gorm.Expr("player_counters.fta_total + ?", stats.Fta),
			"max_pts_game":      gorm.Expr("GREATEST(player_counters.max_pts_game, ?)", stats.Points),
			"max_ast_game":      gorm.Expr("GREATEST(player_counters.max_ast_game, ?)", stats.Ast),
			"max_reb_game":      gorm.Expr("GREATEST(player_counters.max_reb_game, ?)", stats.Reb),
			"max_stl_game":      gorm.Expr("GREATEST(player_counters.max_stl_game, ?)", stats.Stl),
			"max_blk_game":      gorm.Expr("GREATEST(player_counters.max_blk_game, ?)", stats.Blk),
			"has_50pt_game":     gorm.Expr("player_counters.has_50pt_game OR ?", flags.Has50PtGame),
			"has_triple_double": gorm.Expr("player_counters.has_triple_double OR ?", flags.HasTripleDouble),
			"has_double_double": gorm.Expr("player_counters.has_double_double OR ?", flags.HasDoubleDouble),
			"updated_at":        now,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting %s counter for player %s: %w", scope, playerID, err)
	}
	return nil
}

// Snapshot bundles the career and season rows read for one player.
type Snapshot struct {
	Career *models.PlayerCounter
	Season *models.PlayerCounter
}

// Fetch reads the career row and, if seasonID is non-empty, the season
// row for playerID in one round trip. Either side may be nil if the
// player has not yet accumulated stats in that scope.
func (s *Store) Fetch(ctx context.Context, playerID string, seasonID *string) (Snapshot, error) {
	var rows []models.PlayerCounter
	query := s.DB(ctx).Where("player_id = ?", playerID)
	if seasonID != nil && *seasonID != "" {
		query = query.Where("(scope = ? AND season_id IS NULL) OR (scope = ? AND season_id = ?)",
			models.CounterScopeCareer, models.CounterScopeSeason, *seasonID)
	} else {
		query = query.Where("scope = ? AND season_id IS NULL", models.CounterScopeCareer)
	}
	if err := query.Find(&rows).Error; err != nil {
		return Snapshot{}, fmt.Errorf("fetching counters for player %s: %w", playerID, err)
	}

	var snap Snapshot
	for i := range rows {
		row := rows[i]
		switch row.Scope {
		case models.CounterScopeCareer:
			snap.Career = &row
		case models.CounterScopeSeason:
			snap.Season = &row
		}
	}
	return snap, nil
}
