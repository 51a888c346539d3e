// Package guard wraps the idempotency manager with the specific scope
// the pipeline uses to stop a crash between a counter commit and
// markDone from double-counting the same event on retry.
package guard

import (
	"context"
	"fmt"
)

const countersScope = "counters"

// Checker marks and checks processed event ids.
type Checker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, id string) (bool, error)
	Delete(ctx context.Context, consumer, id string) error
}

// CounterGuard prevents updateCareer/updateSeason from re-applying the
// same event's stats on a retried delivery.
type CounterGuard struct {
	checker Checker
}

// New constructs a CounterGuard backed by checker.
func New(checker Checker) *CounterGuard {
	return &CounterGuard{checker: checker}
}

// AlreadyCounted reports whether eventID's counter updates have already
// been committed, marking it processed as a side effect of the first
// call. A true result means the pipeline must skip updateCareer/
// updateSeason for this event on this attempt.
func (g *CounterGuard) AlreadyCounted(ctx context.Context, eventID string) (bool, error) {
	already, err := g.checker.CheckAndMarkProcessed(ctx, countersScope, eventID)
	if err != nil {
		return false, fmt.Errorf("checking counter guard for event %s: %w", eventID, err)
	}
	return already, nil
}

// Forget clears the processed marker for eventID, so a later delivery of
// the same event applies its counter updates again.
func (g *CounterGuard) Forget(ctx context.Context, eventID string) error {
	return g.checker.Delete(ctx, countersScope, eventID)
}
