// Package buffer implements the bounded accumulator feeding analysis cycles.
package buffer

import (
	"sync"

	"github.com/cortexhub/cortex-sentinel/internal/event"
	"github.com/cortexhub/cortex-sentinel/internal/metrics"
)

// ChangeBuffer accumulates state changes between analysis ticks. It is safe
// for one producer (the poll tick) and one consumer (the analysis tick).
// When full, the oldest entry is evicted so the freshest signal wins.
type ChangeBuffer struct {
	mu      sync.Mutex
	changes []event.StateChange
	maxSize int
	scope   event.Scope
}

// New creates a ChangeBuffer holding at most maxSize changes.
func New(maxSize int, scope event.Scope) *ChangeBuffer {
	if maxSize < 1 {
		maxSize = 1
	}
	return &ChangeBuffer{
		changes: make([]event.StateChange, 0, maxSize),
		maxSize: maxSize,
		scope:   scope,
	}
}

// Enqueue appends a change if its domain is within the monitoring scope.
// Returns true if the change was accepted.
func (b *ChangeBuffer) Enqueue(ch event.StateChange) bool {
	if !b.scope.AllowsDomain(ch.Domain) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.changes) >= b.maxSize {
		b.changes = b.changes[1:]
	}
	b.changes = append(b.changes, ch)

	metrics.ChangesIngested.Inc()
	metrics.BufferSize.Set(float64(len(b.changes)))
	return true
}

// Drain atomically returns everything accumulated so far and empties the
// buffer. No change is visible in both the returned batch and the buffer.
func (b *ChangeBuffer) Drain() []event.StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.changes
	b.changes = make([]event.StateChange, 0, b.maxSize)

	metrics.BufferSize.Set(0)
	return batch
}

// Len returns the number of buffered changes.
func (b *ChangeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}
