// Package rules implements the achievement rule registry: loading active
// rules and filtering them against an event's game-year/league/season
// values, with an optional Redis-backed cache so a hot worker doesn't hit
// the rules table on every event.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hoopmetrics/achievements-worker/internal/models"
	"github.com/hoopmetrics/achievements-worker/internal/repo"
	"github.com/hoopmetrics/achievements-worker/pkg/metrics"
	"github.com/hoopmetrics/achievements-worker/pkg/redis"
	"gorm.io/gorm"
)

// activeRulesScope names the single cache entry holding every active,
// scoped rule; per-event filtering happens in-process against it.
const activeRulesScope = "active"

// Registry loads candidate rules for an event's filter values.
type Registry struct {
	repo.Base

	cache    redis.RulesStore
	cacheTTL time.Duration
	metrics  *metrics.PipelineMetrics
}

// New constructs a Registry bound to db. cache may be nil, or cacheTTL may
// be zero, to disable caching entirely; either way each call hits the
// store.
func New(db *gorm.DB, cache redis.RulesStore, cacheTTL time.Duration) *Registry {
	return &Registry{Base: repo.NewBase(db), cache: cache, cacheTTL: cacheTTL}
}

// SetMetrics attaches a PipelineMetrics sink. Optional; unset leaves
// cache hit/miss counts unmeasured.
func (r *Registry) SetMetrics(m *metrics.PipelineMetrics) {
	r.metrics = m
}

// FetchCandidateRules returns all active rules whose optional filters are
// either unset or match the supplied values, ordered by rule_id for
// stable iteration.
func (r *Registry) FetchCandidateRules(ctx context.Context, gameYear, leagueID, seasonID *string) ([]models.AchievementRule, error) {
	active, err := r.activeRules(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.AchievementRule, 0, len(active))
	for _, rule := range active {
		if rule.MatchesFilters(gameYear, leagueID, seasonID) {
			candidates = append(candidates, rule)
		}
	}
	return candidates, nil
}

// activeRules returns every active, scoped rule, preferring the Redis
// cache when one is configured.
func (r *Registry) activeRules(ctx context.Context) ([]models.AchievementRule, error) {
	if r.cache != nil && r.cacheTTL > 0 {
		if rules, ok := r.lookupCache(ctx); ok {
			r.metrics.IncRuleCacheResult("hit")
			return rules, nil
		}
		r.metrics.IncRuleCacheResult("miss")
	}

	var rules []models.AchievementRule
	err := r.DB(ctx).Where("is_active = ?", true).
		Where("scope IN ?", []models.RuleScope{models.ScopePerGame, models.ScopeSeason, models.ScopeCareer}).
		Order("rule_id ASC").Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("fetching active rules: %w", err)
	}

	if r.cache != nil && r.cacheTTL > 0 {
		r.storeCache(ctx, rules)
	}
	return rules, nil
}

func (r *Registry) lookupCache(ctx context.Context) ([]models.AchievementRule, bool) {
	raw, err := r.cache.Get(ctx, r.cache.RulesKey(activeRulesScope))
	if err != nil {
		return nil, false
	}
	var rules []models.AchievementRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, false
	}
	return rules, true
}

func (r *Registry) storeCache(ctx context.Context, rules []models.AchievementRule) {
	encoded, err := json.Marshal(rules)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, r.cache.RulesKey(activeRulesScope), encoded, r.cacheTTL)
}

// InvalidateCache clears the cached active rule set. Call this after an
// administrative rule change to honour is_active within one TTL at most,
// or immediately if you need it to take effect now.
func (r *Registry) InvalidateCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Del(ctx, r.cache.RulesKey(activeRulesScope)); err != nil {
		return fmt.Errorf("invalidating rule cache: %w", err)
	}
	return nil
}

// DecodePredicate unmarshals a rule's stored predicate column into a
// generic JSON value, ready for the predicate parser.
func DecodePredicate(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("false")
	}
	return json.RawMessage(raw)
}
