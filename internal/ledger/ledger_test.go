package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/store"
)

type fakeStore struct {
	saved   map[string]store.CostDay
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]store.CostDay)}
}

func (f *fakeStore) SaveCostDay(_ context.Context, rec *store.CostDay) error {
	if f.failing {
		return fmt.Errorf("disk full")
	}
	f.saved[rec.Date] = *rec
	return nil
}

func (f *fakeStore) GetCostDay(_ context.Context, date string) (*store.CostDay, bool, error) {
	rec, ok := f.saved[date]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func testLedger(st *fakeStore, maxCalls int, limit float64) *Ledger {
	return New(st, maxCalls, limit, slog.Default())
}

func TestCommitAccumulatesExactly(t *testing.T) {
	l := testLedger(newFakeStore(), 100, 1.00)

	costs := []float64{0.001, 0.0025, 0.0004}
	var want float64
	for _, c := range costs {
		l.Commit(c, 100, 50, "gpt-4o-mini")
		want += c
	}

	snap := l.Snapshot()
	if math.Abs(snap.Cost-want) > 1e-12 {
		t.Errorf("Expected cost %v, got %v", want, snap.Cost)
	}
	if snap.CallsMade != 3 {
		t.Errorf("Expected 3 calls, got %d", snap.CallsMade)
	}
	if snap.TokensIn != 300 || snap.TokensOut != 150 {
		t.Errorf("Unexpected token totals: %+v", snap)
	}
}

func TestAdmitCostLimit(t *testing.T) {
	l := testLedger(newFakeStore(), 100, 0.10)

	if !l.Admit(0.05, 1) {
		t.Fatal("Expected admit under limit")
	}
	l.Commit(0.08, 10, 5, "gpt-4o-mini")

	// Projected total 0.08 + 0.05 > 0.10
	if l.Admit(0.05, 1) {
		t.Error("Expected admit denied past cost limit")
	}
	// Exactly at the limit is allowed
	if !l.Admit(0.02, 1) {
		t.Error("Expected admit at exact limit")
	}
}

func TestAdmitCallLimit(t *testing.T) {
	l := testLedger(newFakeStore(), 1, 100.0)

	if !l.Admit(0.0, 1) {
		t.Fatal("Expected first call admitted")
	}
	l.Commit(0.001, 10, 5, "gpt-4o-mini")

	if l.Admit(0.0, 1) {
		t.Error("Expected admit denied after call limit consumed, regardless of estimate")
	}
}

func TestAdmitIsPure(t *testing.T) {
	l := testLedger(newFakeStore(), 10, 1.0)
	for i := 0; i < 5; i++ {
		l.Admit(0.5, 1)
	}
	snap := l.Snapshot()
	if snap.CallsMade != 0 || snap.Cost != 0 {
		t.Errorf("Admit mutated state: %+v", snap)
	}
}

func TestDayRollover(t *testing.T) {
	st := newFakeStore()
	l := testLedger(st, 100, 1.00)

	day1 := time.Date(2026, 9, 1, 23, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return day1 })
	l.Commit(0.10, 100, 50, "gpt-4o-mini")

	day2 := day1.Add(2 * time.Hour)
	l.SetClock(func() time.Time { return day2 })
	l.Commit(0.02, 10, 5, "gpt-4o-mini")

	snap := l.Snapshot()
	if snap.Date != "2026-09-02" {
		t.Fatalf("Expected live record for 2026-09-02, got %s", snap.Date)
	}
	if snap.Cost != 0.02 || snap.CallsMade != 1 {
		t.Errorf("Expected fresh counters on new day, got %+v", snap)
	}

	// History of day 1 preserved unmodified
	prev, ok := st.saved["2026-09-01"]
	if !ok {
		t.Fatal("Expected day 1 record persisted")
	}
	if prev.Cost != 0.10 || prev.CallsMade != 1 {
		t.Errorf("Day 1 history mutated: %+v", prev)
	}
}

func TestRestoreFromStore(t *testing.T) {
	st := newFakeStore()
	l := testLedger(st, 100, 1.00)
	l.Commit(0.25, 100, 50, "gpt-4o-mini")

	// Simulate a restart on the same day
	l2 := testLedger(st, 100, 1.00)
	snap := l2.Snapshot()
	if snap.Cost != 0.25 || snap.CallsMade != 1 {
		t.Errorf("Expected restored record, got %+v", snap)
	}
}

func TestPersistenceFailureDoesNotLoseState(t *testing.T) {
	st := newFakeStore()
	st.failing = true
	l := testLedger(st, 100, 1.00)

	l.Commit(0.10, 100, 50, "gpt-4o-mini")
	l.Commit(0.05, 50, 25, "gpt-4o-mini")

	snap := l.Snapshot()
	if math.Abs(snap.Cost-0.15) > 1e-12 || snap.CallsMade != 2 {
		t.Errorf("In-memory state must remain authoritative, got %+v", snap)
	}
	if l.Admit(0.90, 1) {
		t.Error("Expected admit to reflect in-memory spend despite write failures")
	}
}

func TestRemaining(t *testing.T) {
	l := testLedger(newFakeStore(), 10, 1.00)
	l.Commit(0.40, 100, 50, "gpt-4o-mini")

	if rem := l.RemainingBudget(); math.Abs(rem-0.60) > 1e-12 {
		t.Errorf("Expected remaining budget 0.60, got %v", rem)
	}
	if rem := l.RemainingCalls(); rem != 9 {
		t.Errorf("Expected 9 remaining calls, got %d", rem)
	}
}
