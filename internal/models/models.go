// Package models defines the GORM-mapped rows the achievements pipeline
// reads and writes: events, their queue leases, player counters,
// achievement rules, and the awards they produce.
package models

import (
	"encoding/json"
	"time"
)

// QueueStatus enumerates the lifecycle states of a QueueItem.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusDone       QueueStatus = "done"
	QueueStatusError      QueueStatus = "error"
)

// RuleScope enumerates the scopes a Rule or Award may apply to.
type RuleScope string

const (
	ScopePerGame RuleScope = "per_game"
	ScopeSeason  RuleScope = "season"
	ScopeCareer  RuleScope = "career"
)

// CounterScope enumerates the scopes a PlayerCounter row may represent.
type CounterScope string

const (
	CounterScopeCareer CounterScope = "career"
	CounterScopeSeason CounterScope = "season"
)

const (
	EventTypePlayerStat = "player_stat_event"
	EventTypeMatch       = "match_event"
)

// Event is the immutable external record the queue references. The core
// never mutates a row of this table once written.
type Event struct {
	EventID    string `gorm:"column:event_id;primaryKey;size:128"`
	EventType  string `gorm:"column:event_type;size:64;index"`
	Payload    []byte `gorm:"column:payload;type:jsonb"`
	PlayerID   *string `gorm:"column:player_id;size:128;index"`
	MatchID    *string `gorm:"column:match_id;size:128"`
	SeasonID   *string `gorm:"column:season_id;size:128"`
	LeagueID   *string `gorm:"column:league_id;size:128"`
	GameYear   *string `gorm:"column:game_year;size:16"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
}

func (Event) TableName() string { return "events" }

// PayloadMap decodes Payload into a generic string-keyed map.
func (e Event) PayloadMap() (map[string]any, error) {
	if len(e.Payload) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueueItem is a lease record over an Event.
type QueueItem struct {
	QueueID   int64       `gorm:"column:queue_id;primaryKey;autoIncrement"`
	EventID   string      `gorm:"column:event_id;size:128;index"`
	Status    QueueStatus `gorm:"column:status;size:16;index"`
	Attempts  int         `gorm:"column:attempts;default:0"`
	VisibleAt time.Time   `gorm:"column:visible_at;index"`
	LastError *string     `gorm:"column:last_error"`
	UpdatedAt time.Time   `gorm:"column:updated_at"`
}

func (QueueItem) TableName() string { return "event_queue" }

// PerGameStats is the fixed-shape per-game box score extracted from an
// event payload. Missing or non-numeric keys default to zero.
type PerGameStats struct {
	Points  float64 `json:"points"`
	Ast     float64 `json:"ast"`
	Reb     float64 `json:"reb"`
	Stl     float64 `json:"stl"`
	Blk     float64 `json:"blk"`
	Tov     float64 `json:"tov"`
	Minutes float64 `json:"minutes"`
	Fgm     float64 `json:"fgm"`
	Fga     float64 `json:"fga"`
	Tpm     float64 `json:"tpm"`
	Tpa     float64 `json:"tpa"`
	Ftm     float64 `json:"ftm"`
	Fta     float64 `json:"fta"`
}

var statKeys = []string{"points", "ast", "reb", "stl", "blk", "tov", "minutes", "fgm", "fga", "tpm", "tpa", "ftm", "fta"}

// StatsFromPayload extracts PerGameStats from a decoded event payload,
// defaulting any missing or non-numeric key to zero.
func StatsFromPayload(payload map[string]any) PerGameStats {
	get := func(key string) float64 {
		v, ok := payload[key]
		if !ok {
			return 0
		}
		switch n := v.(type) {
		case float64:
			return n
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return 0
			}
			return f
		default:
			return 0
		}
	}
	return PerGameStats{
		Points:  get("points"),
		Ast:     get("ast"),
		Reb:     get("reb"),
		Stl:     get("stl"),
		Blk:     get("blk"),
		Tov:     get("tov"),
		Minutes: get("minutes"),
		Fgm:     get("fgm"),
		Fga:     get("fga"),
		Tpm:     get("tpm"),
		Tpa:     get("tpa"),
		Ftm:     get("ftm"),
		Fta:     get("fta"),
	}
}

// ToMap flattens PerGameStats into a string-keyed map for context building
// and canonical snapshotting.
func (s PerGameStats) ToMap() map[string]any {
	return map[string]any{
		"points":  s.Points,
		"ast":     s.Ast,
		"reb":     s.Reb,
		"stl":     s.Stl,
		"blk":     s.Blk,
		"tov":     s.Tov,
		"minutes": s.Minutes,
		"fgm":     s.Fgm,
		"fga":     s.Fga,
		"tpm":     s.Tpm,
		"tpa":     s.Tpa,
		"ftm":     s.Ftm,
		"fta":     s.Fta,
	}
}

// Add returns the element-wise sum of s and o.
func (s PerGameStats) Add(o PerGameStats) PerGameStats {
	return PerGameStats{
		Points:  s.Points + o.Points,
		Ast:     s.Ast + o.Ast,
		Reb:     s.Reb + o.Reb,
		Stl:     s.Stl + o.Stl,
		Blk:     s.Blk + o.Blk,
		Tov:     s.Tov + o.Tov,
		Minutes: s.Minutes + o.Minutes,
		Fgm:     s.Fgm + o.Fgm,
		Fga:     s.Fga + o.Fga,
		Tpm:     s.Tpm + o.Tpm,
		Tpa:     s.Tpa + o.Tpa,
		Ftm:     s.Ftm + o.Ftm,
		Fta:     s.Fta + o.Fta,
	}
}

// Max returns the element-wise maximum of s and o.
func (s PerGameStats) Max(o PerGameStats) PerGameStats {
	max := func(a, b float64) float64 {
		if a > b {
			return a
		}
		return b
	}
	return PerGameStats{
		Points:  max(s.Points, o.Points),
		Ast:     max(s.Ast, o.Ast),
		Reb:     max(s.Reb, o.Reb),
		Stl:     max(s.Stl, o.Stl),
		Blk:     max(s.Blk, o.Blk),
		Tov:     max(s.Tov, o.Tov),
		Minutes: max(s.Minutes, o.Minutes),
		Fgm:     max(s.Fgm, o.Fgm),
		Fga:     max(s.Fga, o.Fga),
		Tpm:     max(s.Tpm, o.Tpm),
		Tpa:     max(s.Tpa, o.Tpa),
		Ftm:     max(s.Ftm, o.Ftm),
		Fta:     max(s.Fta, o.Fta),
	}
}

// Flags derives the boolean achievement flags a single game's stats imply.
type Flags struct {
	Has50PtGame     bool
	HasDoubleDouble bool
	HasTripleDouble bool
}

// DeriveFlags implements the double/triple-double/50-point rule from a
// single game's stat line.
func DeriveFlags(s PerGameStats) Flags {
	doubleDigitCount := 0
	for _, v := range []float64{s.Points, s.Ast, s.Reb, s.Stl, s.Blk} {
		if v >= 10 {
			doubleDigitCount++
		}
	}
	return Flags{
		Has50PtGame:     s.Points >= 50,
		HasDoubleDouble: doubleDigitCount >= 2,
		HasTripleDouble: doubleDigitCount >= 3,
	}
}

// PlayerCounter is a career or season aggregate row keyed by
// (player_id, scope, season_id).
type PlayerCounter struct {
	ID       int64        `gorm:"column:id;primaryKey;autoIncrement"`
	PlayerID string       `gorm:"column:player_id;size:128;index:idx_player_counters_key,unique"`
	Scope    CounterScope `gorm:"column:scope;size:16;index:idx_player_counters_key,unique"`
	SeasonID *string      `gorm:"column:season_id;size:128;index:idx_player_counters_key,unique"`

	GamesPlayed int `gorm:"column:games_played;default:0"`

	PointsTotal  float64 `gorm:"column:points_total;default:0"`
	AstTotal     float64 `gorm:"column:ast_total;default:0"`
	RebTotal     float64 `gorm:"column:reb_total;default:0"`
	StlTotal     float64 `gorm:"column:stl_total;default:0"`
	BlkTotal     float64 `gorm:"column:blk_total;default:0"`
	TovTotal     float64 `gorm:"column:tov_total;default:0"`
	MinutesTotal float64 `gorm:"column:minutes_total;default:0"`
	FgmTotal     float64 `gorm:"column:fgm_total;default:0"`
	FgaTotal     float64 `gorm:"column:fga_total;default:0"`
	TpmTotal     float64 `gorm:"column:tpm_total;default:0"`
	TpaTotal     float64 `gorm:"column:tpa_total;default:0"`
	FtmTotal     float64 `gorm:"column:ftm_total;default:0"`
	FtaTotal     float64 `gorm:"column:fta_total;default:0"`

	MaxPtsGame float64 `gorm:"column:max_pts_game;default:0"`
	MaxAstGame float64 `gorm:"column:max_ast_game;default:0"`
	MaxRebGame float64 `gorm:"column:max_reb_game;default:0"`
	MaxStlGame float64 `gorm:"column:max_stl_game;default:0"`
	MaxBlkGame float64 `gorm:"column:max_blk_game;default:0"`

	Has50PtGame     bool `gorm:"column:has_50pt_game;default:false"`
	HasTripleDouble bool `gorm:"column:has_triple_double;default:false"`
	HasDoubleDouble bool `gorm:"column:has_double_double;default:false"`

	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (PlayerCounter) TableName() string { return "player_counters" }

// Totals flattens the running totals into a PerGameStats-shaped value.
func (c PlayerCounter) Totals() PerGameStats {
	return PerGameStats{
		Points:  c.PointsTotal,
		Ast:     c.AstTotal,
		Reb:     c.RebTotal,
		Stl:     c.StlTotal,
		Blk:     c.BlkTotal,
		Tov:     c.TovTotal,
		Minutes: c.MinutesTotal,
		Fgm:     c.FgmTotal,
		Fga:     c.FgaTotal,
		Tpm:     c.TpmTotal,
		Tpa:     c.TpaTotal,
		Ftm:     c.FtmTotal,
		Fta:     c.FtaTotal,
	}
}

// ToContextMap flattens a counter row into the flat mapping the evaluator
// expects for its "season" or "career" scope.
func (c PlayerCounter) ToContextMap() map[string]any {
	m := c.Totals().ToMap()
	out := map[string]any{
		"games_played":       float64(c.GamesPlayed),
		"max_pts_game":       c.MaxPtsGame,
		"max_ast_game":       c.MaxAstGame,
		"max_reb_game":       c.MaxRebGame,
		"max_stl_game":       c.MaxStlGame,
		"max_blk_game":       c.MaxBlkGame,
		"has_50pt_game":      c.Has50PtGame,
		"has_triple_double":  c.HasTripleDouble,
		"has_double_double":  c.HasDoubleDouble,
	}
	for _, k := range statKeys {
		out[k+"_total"] = m[k]
	}
	return out
}

// AchievementRule is a declarative predicate evaluated against a player's
// per-game, season, and career context.
type AchievementRule struct {
	RuleID    int64     `gorm:"column:rule_id;primaryKey;autoIncrement"`
	Title     string    `gorm:"column:title;size:256"`
	Tier      string    `gorm:"column:tier;size:32"`
	Scope     RuleScope `gorm:"column:scope;size:16"`
	Predicate []byte    `gorm:"column:predicate;type:jsonb"`
	IsActive  bool      `gorm:"column:is_active;default:true;index"`

	GameYear *string `gorm:"column:game_year;size:16"`
	LeagueID *string `gorm:"column:league_id;size:128"`
	SeasonID *string `gorm:"column:season_id;size:128"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (AchievementRule) TableName() string { return "achievement_rules" }

// MatchesFilters reports whether the rule's optional filters accept the
// given event-derived values. An unset filter applies everywhere.
func (r AchievementRule) MatchesFilters(gameYear, leagueID, seasonID *string) bool {
	match := func(filter, value *string) bool {
		if filter == nil || *filter == "" {
			return true
		}
		return value != nil && *filter == *value
	}
	return match(r.GameYear, gameYear) && match(r.LeagueID, leagueID) && match(r.SeasonID, seasonID)
}

// PlayerAward is an issued achievement, unique on the idempotency tuple
// (player_id, rule_id, scope_key, level).
type PlayerAward struct {
	AwardID     string  `gorm:"column:award_id;primaryKey;size:64"`
	PlayerID    string  `gorm:"column:player_id;size:128;index:idx_player_awards_key,unique"`
	RuleID      int64   `gorm:"column:rule_id;index:idx_player_awards_key,unique"`
	ScopeKey    *string `gorm:"column:scope_key;size:128;index:idx_player_awards_key,unique"`
	Level       int     `gorm:"column:level;default:1;index:idx_player_awards_key,unique"`
	Title       string  `gorm:"column:title;size:256"`
	Tier        string  `gorm:"column:tier;size:32"`
	SeasonID    *string `gorm:"column:season_id;size:128"`
	MatchID     *string `gorm:"column:match_id;size:128"`
	AwardedAt   time.Time `gorm:"column:awarded_at"`
	Stats       []byte  `gorm:"column:stats;type:jsonb"`
	Issuer      string  `gorm:"column:issuer;size:128"`
	Version     int     `gorm:"column:version;default:1"`
	AssetSVGURL *string `gorm:"column:asset_svg_url"`
}

func (PlayerAward) TableName() string { return "player_awards" }
