// Package ledger implements daily spend accounting and pre-call admission
// control for paid inference calls.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/metrics"
	"github.com/cortexhub/cortex-sentinel/internal/store"
)

// costStore is the slice of the persistence layer the ledger needs.
type costStore interface {
	SaveCostDay(ctx context.Context, rec *store.CostDay) error
	GetCostDay(ctx context.Context, date string) (*store.CostDay, bool, error)
}

// Ledger tracks API calls and spend for the current UTC day. Admission is a
// pure predicate; Commit mutates the live record and persists it
// synchronously. In-memory state stays authoritative if persistence fails.
type Ledger struct {
	mu        sync.Mutex
	store     costStore
	maxCalls  int
	costLimit float64
	now       func() time.Time
	logger    *slog.Logger

	day *store.CostDay
}

// New creates a Ledger, restoring today's record from the store if present.
func New(st costStore, maxCalls int, costLimit float64, logger *slog.Logger) *Ledger {
	l := &Ledger{
		store:     st,
		maxCalls:  maxCalls,
		costLimit: costLimit,
		now:       time.Now,
		logger:    logger,
	}

	today := l.dateKey()
	rec, ok, err := st.GetCostDay(context.Background(), today)
	if err != nil {
		logger.Error("Failed to restore cost record, starting fresh", "error", err)
	}
	if ok {
		l.day = rec
		metrics.DailyCost.Set(rec.Cost)
	} else {
		l.day = &store.CostDay{Date: today}
	}
	return l
}

func (l *Ledger) dateKey() string {
	return l.now().UTC().Format("2006-01-02")
}

// live returns the record for the current UTC day, swapping in a fresh zeroed
// record on the first access of a new day. The previous day's row stays in
// the store untouched.
func (l *Ledger) live() *store.CostDay {
	today := l.dateKey()
	if l.day.Date != today {
		l.logger.Info("Cost ledger day rollover", "previous", l.day.Date, "current", today)
		l.day = &store.CostDay{Date: today}
		metrics.DailyCost.Set(0)
	}
	return l.day
}

// Admit reports whether a call with the given estimated cost may proceed.
// It never mutates persisted state.
func (l *Ledger) Admit(estimatedCost float64, estimatedCalls int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.live()
	if day.CallsMade+estimatedCalls > l.maxCalls {
		l.logger.Warn("Daily call limit reached",
			"calls_made", day.CallsMade, "max_calls", l.maxCalls)
		return false
	}
	if day.Cost+estimatedCost > l.costLimit {
		l.logger.Warn("Daily cost limit reached",
			"cost", day.Cost, "estimate", estimatedCost, "limit", l.costLimit)
		return false
	}
	return true
}

// Commit records the actual cost of a completed call and persists the record
// before returning. A persistence failure is logged, not retried; the
// in-memory record keeps governing admission for the rest of the run.
func (l *Ledger) Commit(actualCost float64, tokensIn, tokensOut int, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.live()
	day.CallsMade++
	day.TokensIn += tokensIn
	day.TokensOut += tokensOut
	day.Cost += actualCost
	day.Model = model

	metrics.DailyCost.Set(day.Cost)

	if err := l.store.SaveCostDay(context.Background(), day); err != nil {
		l.logger.Error("Failed to persist cost record", "error", err, "date", day.Date)
	}

	l.logger.Debug("Recorded API call",
		"cost", actualCost, "tokens_in", tokensIn, "tokens_out", tokensOut,
		"daily_cost", day.Cost, "daily_calls", day.CallsMade)
}

// Snapshot returns a copy of the live record for the current UTC day.
func (l *Ledger) Snapshot() store.CostDay {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.live()
}

// RemainingBudget returns how much of the daily cost limit is left.
func (l *Ledger) RemainingBudget() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	rem := l.costLimit - l.live().Cost
	if rem < 0 {
		return 0
	}
	return rem
}

// RemainingCalls returns how many calls are left under the daily cap.
func (l *Ledger) RemainingCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	rem := l.maxCalls - l.live().CallsMade
	if rem < 0 {
		return 0
	}
	return rem
}

// SetClock overrides the time source. Test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
