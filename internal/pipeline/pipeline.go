// Package pipeline orchestrates per-event work: stat extraction, counter
// updates, context assembly, rule evaluation, award issuance, and badge
// rendering. It is the coupling point between every other component.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hoopmetrics/achievements-worker/internal/artifact"
	"github.com/hoopmetrics/achievements-worker/internal/awards"
	"github.com/hoopmetrics/achievements-worker/internal/counters"
	"github.com/hoopmetrics/achievements-worker/internal/models"
	"github.com/hoopmetrics/achievements-worker/internal/predicate"
	apperrors "github.com/hoopmetrics/achievements-worker/pkg/errors"
	"github.com/hoopmetrics/achievements-worker/pkg/logger"
	"go.uber.org/multierr"
)

// CounterGuard reports and records whether an event's counter updates
// have already been committed, so a retried delivery does not
// double-count the same game.
type CounterGuard interface {
	AlreadyCounted(ctx context.Context, eventID string) (bool, error)
}

// CounterStore is the subset of counters.Store the pipeline drives.
type CounterStore interface {
	UpdateCareer(ctx context.Context, playerID string, stats models.PerGameStats) error
	UpdateSeason(ctx context.Context, playerID, seasonID string, stats models.PerGameStats) error
	Fetch(ctx context.Context, playerID string, seasonID *string) (counters.Snapshot, error)
}

// RuleSource is the subset of rules.Registry the pipeline drives.
type RuleSource interface {
	FetchCandidateRules(ctx context.Context, gameYear, leagueID, seasonID *string) ([]models.AchievementRule, error)
}

// AwardLedger is the subset of awards.Ledger the pipeline drives.
type AwardLedger interface {
	InsertAward(ctx context.Context, data awards.NewAward) (string, error)
	AttachAssetUrl(ctx context.Context, awardID, url string) error
}

// BadgeRenderer is the subset of artifact.Renderer the pipeline drives.
type BadgeRenderer interface {
	GenerateAndUpload(ctx context.Context, award artifact.Award) (string, error)
}

// Pipeline wires the Counter Store, Rule Registry, Predicate Evaluator,
// Award Ledger, and Artifact Renderer into the per-event sequence §4.7
// describes.
type Pipeline struct {
	counters CounterStore
	rules    RuleSource
	ledger   AwardLedger
	renderer BadgeRenderer
	guard    CounterGuard
	logg     *logger.Logger
}

// New constructs a Pipeline from its component dependencies.
func New(counterStore CounterStore, ruleRegistry RuleSource, ledger AwardLedger, renderer BadgeRenderer, guard CounterGuard, logg *logger.Logger) *Pipeline {
	return &Pipeline{counters: counterStore, rules: ruleRegistry, ledger: ledger, renderer: renderer, guard: guard, logg: logg}
}

// Process runs the full per-event sequence for a single event. A
// returned error means the caller (the Supervisor) must mark the queue
// item for retry; a nil return means it may be marked done.
func (p *Pipeline) Process(ctx context.Context, event models.Event) error {
	switch event.EventType {
	case models.EventTypePlayerStat:
		return p.processPlayerStat(ctx, event)
	case models.EventTypeMatch:
		return nil
	default:
		if p.logg != nil {
			p.logg.Warn(ctx, fmt.Sprintf("ignoring unknown event type %q for event %s", event.EventType, event.EventID))
		}
		return nil
	}
}

func (p *Pipeline) processPlayerStat(ctx context.Context, event models.Event) error {
	if event.PlayerID == nil || *event.PlayerID == "" {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("event %s missing player_id", event.EventID))
	}
	playerID := *event.PlayerID

	payload, err := event.PayloadMap()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, fmt.Sprintf("decoding payload for event %s", event.EventID))
	}
	stats := models.StatsFromPayload(payload)

	alreadyCounted, err := p.guard.AlreadyCounted(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("checking counter guard for event %s: %w", event.EventID, err)
	}
	if !alreadyCounted {
		if err := p.counters.UpdateCareer(ctx, playerID, stats); err != nil {
			return fmt.Errorf("updating career counters for event %s: %w", event.EventID, err)
		}
		if event.SeasonID != nil && *event.SeasonID != "" {
			if err := p.counters.UpdateSeason(ctx, playerID, *event.SeasonID, stats); err != nil {
				return fmt.Errorf("updating season counters for event %s: %w", event.EventID, err)
			}
		}
	}

	snapshot, err := p.counters.Fetch(ctx, playerID, event.SeasonID)
	if err != nil {
		return fmt.Errorf("fetching counters for event %s: %w", event.EventID, err)
	}

	evalCtx := predicate.Context{
		PerGame: stats.ToMap(),
		Season:  contextMap(snapshot.Season),
		Career:  contextMap(snapshot.Career),
	}

	candidates, err := p.rules.FetchCandidateRules(ctx, event.GameYear, event.LeagueID, event.SeasonID)
	if err != nil {
		return fmt.Errorf("fetching candidate rules for event %s: %w", event.EventID, err)
	}

	var combined error
	for _, rule := range candidates {
		if err := p.evaluateRule(ctx, event, rule, evalCtx, payload); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("rule %d: %w", rule.RuleID, err))
			if p.logg != nil {
				p.logg.Error(ctx, fmt.Sprintf("rule processing failed for event %s rule %d", event.EventID, rule.RuleID), err)
			}
		}
	}
	return combined
}

func contextMap(c *models.PlayerCounter) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return c.ToContextMap()
}

func (p *Pipeline) evaluateRule(ctx context.Context, event models.Event, rule models.AchievementRule, evalCtx predicate.Context, payload map[string]any) error {
	node := predicate.Parse(rule.Predicate)
	if !predicate.Evaluate(node, evalCtx) {
		return nil
	}

	scopeKey := scopeKeyFor(rule.Scope, event)
	const level = 1

	var predicateValue any
	_ = json.Unmarshal(rule.Predicate, &predicateValue)

	awardID, err := p.ledger.InsertAward(ctx, awards.NewAward{
		PlayerID: *event.PlayerID,
		RuleID:   rule.RuleID,
		ScopeKey: scopeKey,
		Level:    level,
		Title:    rule.Title,
		Tier:     rule.Tier,
		SeasonID: event.SeasonID,
		MatchID:  event.MatchID,
		PerGame:  evalCtx.PerGame,
		Season:   evalCtx.Season,
		Career:   evalCtx.Career,
		Rule:     asMap(predicateValue),
	})
	if err != nil {
		return fmt.Errorf("inserting award: %w", err)
	}
	if awardID == "" {
		// Already awarded for this idempotency tuple; nothing further to do.
		return nil
	}

	url, err := p.renderer.GenerateAndUpload(ctx, artifact.Award{
		AwardID:   awardID,
		PlayerID:  *event.PlayerID,
		RuleID:    rule.RuleID,
		ScopeKey:  scopeKey,
		Level:     level,
		Title:     rule.Title,
		Tier:      rule.Tier,
		AwardedAt: event.OccurredAt,
		Issuer:    "achievements-worker",
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDependency, err, "rendering and uploading badge")
	}

	if err := p.ledger.AttachAssetUrl(ctx, awardID, url); err != nil {
		return fmt.Errorf("attaching asset url: %w", err)
	}
	return nil
}

func scopeKeyFor(scope models.RuleScope, event models.Event) *string {
	switch scope {
	case models.ScopePerGame:
		return event.MatchID
	case models.ScopeSeason:
		return event.SeasonID
	default:
		return nil
	}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}
