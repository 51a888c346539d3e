package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/hoopmetrics/achievements-worker/internal/artifact"
	"github.com/hoopmetrics/achievements-worker/internal/awards"
	"github.com/hoopmetrics/achievements-worker/internal/counters"
	"github.com/hoopmetrics/achievements-worker/internal/models"
	apperrors "github.com/hoopmetrics/achievements-worker/pkg/errors"
)

type fakeGuard struct {
	already bool
	err     error
}

func (g *fakeGuard) AlreadyCounted(context.Context, string) (bool, error) {
	return g.already, g.err
}

type fakeCounters struct {
	careerCalls int
	seasonCalls int
	careerErr   error
	seasonErr   error
	snapshot    counters.Snapshot
	fetchErr    error
}

func (f *fakeCounters) UpdateCareer(context.Context, string, models.PerGameStats) error {
	f.careerCalls++
	return f.careerErr
}

func (f *fakeCounters) UpdateSeason(context.Context, string, string, models.PerGameStats) error {
	f.seasonCalls++
	return f.seasonErr
}

func (f *fakeCounters) Fetch(context.Context, string, *string) (counters.Snapshot, error) {
	return f.snapshot, f.fetchErr
}

type fakeRules struct {
	rules []models.AchievementRule
	err   error
}

func (f *fakeRules) FetchCandidateRules(context.Context, *string, *string, *string) ([]models.AchievementRule, error) {
	return f.rules, f.err
}

type fakeLedger struct {
	insertErr    error
	nextAwardID  string
	insertedFor  []int64
	attachedURLs map[string]string
}

func (f *fakeLedger) InsertAward(_ context.Context, data awards.NewAward) (string, error) {
	f.insertedFor = append(f.insertedFor, data.RuleID)
	if f.insertErr != nil {
		return "", f.insertErr
	}
	return f.nextAwardID, nil
}

func (f *fakeLedger) AttachAssetUrl(_ context.Context, awardID, url string) error {
	if f.attachedURLs == nil {
		f.attachedURLs = map[string]string{}
	}
	f.attachedURLs[awardID] = url
	return nil
}

type fakeRenderer struct {
	url string
	err error
}

func (f *fakeRenderer) GenerateAndUpload(context.Context, artifact.Award) (string, error) {
	return f.url, f.err
}

func strptr(s string) *string { return &s }

func fiftyPointRule(ruleID int64) models.AchievementRule {
	return models.AchievementRule{
		RuleID:    ruleID,
		Title:     "50 Bomb",
		Tier:      "Gold",
		Scope:     models.ScopePerGame,
		IsActive:  true,
		Predicate: []byte(`{">=":["per_game.points",50]}`),
	}
}

func TestProcess_UnknownEventTypeIsNoop(t *testing.T) {
	p := New(&fakeCounters{}, &fakeRules{}, &fakeLedger{}, &fakeRenderer{}, &fakeGuard{}, nil)
	err := p.Process(context.Background(), models.Event{EventID: "e1", EventType: "unknown_event"})
	if err != nil {
		t.Fatalf("expected nil error for unknown event type, got %v", err)
	}
}

func TestProcess_MatchEventIsNoop(t *testing.T) {
	p := New(&fakeCounters{}, &fakeRules{}, &fakeLedger{}, &fakeRenderer{}, &fakeGuard{}, nil)
	err := p.Process(context.Background(), models.Event{EventID: "e1", EventType: models.EventTypeMatch})
	if err != nil {
		t.Fatalf("expected nil error for match event, got %v", err)
	}
}

func TestProcess_MissingPlayerIDIsValidationError(t *testing.T) {
	p := New(&fakeCounters{}, &fakeRules{}, &fakeLedger{}, &fakeRenderer{}, &fakeGuard{}, nil)
	event := models.Event{EventID: "e1", EventType: models.EventTypePlayerStat, Payload: []byte(`{}`)}
	err := p.Process(context.Background(), event)
	if err == nil {
		t.Fatal("expected error for missing player id")
	}
	if typed := apperrors.As(err); typed == nil || typed.Code() != apperrors.CodeValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestProcess_SkipsCounterUpdatesWhenAlreadyCounted(t *testing.T) {
	cs := &fakeCounters{}
	guard := &fakeGuard{already: true}
	p := New(cs, &fakeRules{}, &fakeLedger{}, &fakeRenderer{}, guard, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		SeasonID:  strptr("s1"),
		Payload:   []byte(`{"points":20}`),
	}
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if cs.careerCalls != 0 || cs.seasonCalls != 0 {
		t.Fatalf("expected no counter updates on a guarded retry, got career=%d season=%d", cs.careerCalls, cs.seasonCalls)
	}
}

func TestProcess_UpdatesCareerAndSeasonOnFirstDelivery(t *testing.T) {
	cs := &fakeCounters{}
	guard := &fakeGuard{already: false}
	p := New(cs, &fakeRules{}, &fakeLedger{}, &fakeRenderer{}, guard, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		SeasonID:  strptr("s1"),
		Payload:   []byte(`{"points":20}`),
	}
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if cs.careerCalls != 1 || cs.seasonCalls != 1 {
		t.Fatalf("expected one career and one season update, got career=%d season=%d", cs.careerCalls, cs.seasonCalls)
	}
}

func TestProcess_NoSeasonIDSkipsSeasonUpdate(t *testing.T) {
	cs := &fakeCounters{}
	p := New(cs, &fakeRules{}, &fakeLedger{}, &fakeRenderer{}, &fakeGuard{}, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		Payload:   []byte(`{"points":20}`),
	}
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if cs.careerCalls != 1 || cs.seasonCalls != 0 {
		t.Fatalf("expected only career update, got career=%d season=%d", cs.careerCalls, cs.seasonCalls)
	}
}

func TestProcess_MatchingRuleIssuesAwardAndRendersBadge(t *testing.T) {
	rules := &fakeRules{rules: []models.AchievementRule{fiftyPointRule(7)}}
	ledger := &fakeLedger{nextAwardID: "award-1"}
	renderer := &fakeRenderer{url: "https://cdn.example.com/badges/p1/award-1.svg"}
	p := New(&fakeCounters{}, rules, ledger, renderer, &fakeGuard{}, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		MatchID:   strptr("m1"),
		Payload:   []byte(`{"points":55}`),
	}
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(ledger.insertedFor) != 1 || ledger.insertedFor[0] != 7 {
		t.Fatalf("expected award insert attempt for rule 7, got %v", ledger.insertedFor)
	}
	if ledger.attachedURLs["award-1"] != renderer.url {
		t.Fatalf("expected rendered url attached to the new award, got %v", ledger.attachedURLs)
	}
}

func TestProcess_NonMatchingRuleIssuesNoAward(t *testing.T) {
	rules := &fakeRules{rules: []models.AchievementRule{fiftyPointRule(7)}}
	ledger := &fakeLedger{nextAwardID: "award-1"}
	p := New(&fakeCounters{}, rules, ledger, &fakeRenderer{}, &fakeGuard{}, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		Payload:   []byte(`{"points":10}`),
	}
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(ledger.insertedFor) != 0 {
		t.Fatalf("expected no award insert for a non-matching rule, got %v", ledger.insertedFor)
	}
}

func TestProcess_AlreadyAwardedSkipsRendering(t *testing.T) {
	rules := &fakeRules{rules: []models.AchievementRule{fiftyPointRule(7)}}
	ledger := &fakeLedger{nextAwardID: ""}
	renderer := &fakeRenderer{}
	p := New(&fakeCounters{}, rules, ledger, renderer, &fakeGuard{}, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		Payload:   []byte(`{"points":55}`),
	}
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(ledger.attachedURLs) != 0 {
		t.Fatalf("expected no asset url attachment when the award already existed, got %v", ledger.attachedURLs)
	}
}

func TestProcess_BadgeRenderFailureIsDependencyError(t *testing.T) {
	rules := &fakeRules{rules: []models.AchievementRule{fiftyPointRule(7)}}
	ledger := &fakeLedger{nextAwardID: "award-1"}
	renderer := &fakeRenderer{err: errors.New("bucket unavailable")}
	p := New(&fakeCounters{}, rules, ledger, renderer, &fakeGuard{}, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		Payload:   []byte(`{"points":55}`),
	}
	err := p.Process(context.Background(), event)
	if err == nil {
		t.Fatal("expected render failure to propagate")
	}
	if typed := apperrors.As(err); typed == nil || typed.Code() != apperrors.CodeDependency {
		t.Fatalf("expected a dependency error, got %v", err)
	}
}

func TestProcess_MultipleRuleFailuresAreAggregated(t *testing.T) {
	rules := &fakeRules{rules: []models.AchievementRule{fiftyPointRule(7), fiftyPointRule(8)}}
	ledger := &fakeLedger{insertErr: errors.New("db unavailable")}
	p := New(&fakeCounters{}, rules, ledger, &fakeRenderer{}, &fakeGuard{}, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		Payload:   []byte(`{"points":55}`),
	}
	err := p.Process(context.Background(), event)
	if err == nil {
		t.Fatal("expected aggregated error from both failing rules")
	}
	if len(ledger.insertedFor) != 2 {
		t.Fatalf("expected both rules to be attempted despite the first failing, got %v", ledger.insertedFor)
	}
}

func TestProcess_GuardErrorPropagates(t *testing.T) {
	guard := &fakeGuard{err: errors.New("redis unavailable")}
	p := New(&fakeCounters{}, &fakeRules{}, &fakeLedger{}, &fakeRenderer{}, guard, nil)

	event := models.Event{
		EventID:   "e1",
		EventType: models.EventTypePlayerStat,
		PlayerID:  strptr("p1"),
		Payload:   []byte(`{"points":20}`),
	}
	if err := p.Process(context.Background(), event); err == nil {
		t.Fatal("expected guard error to propagate")
	}
}
