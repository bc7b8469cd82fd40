package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/event"
)

func change(entity string) event.StateChange {
	return event.NewStateChange(entity, "off", "on", nil, time.Now())
}

func TestEnqueueRespectsCapacity(t *testing.T) {
	b := New(3, event.Scope{"all"})
	for i := 0; i < 10; i++ {
		b.Enqueue(change(fmt.Sprintf("light.lamp_%d", i)))
	}
	if b.Len() != 3 {
		t.Fatalf("Expected buffer length 3, got %d", b.Len())
	}

	batch := b.Drain()
	// Most recently enqueued entries are retained
	want := []string{"light.lamp_7", "light.lamp_8", "light.lamp_9"}
	for i, w := range want {
		if batch[i].EntityID != w {
			t.Errorf("Expected %s at %d, got %s", w, i, batch[i].EntityID)
		}
	}
}

func TestEnqueueScopeFilter(t *testing.T) {
	b := New(10, event.Scope{"security"})
	if b.Enqueue(change("light.porch")) {
		t.Error("light domain should be rejected by security scope")
	}
	if !b.Enqueue(change("lock.front_door")) {
		t.Error("lock domain should be accepted by security scope")
	}
	if b.Len() != 1 {
		t.Errorf("Expected length 1, got %d", b.Len())
	}
}

func TestDrainTwiceReturnsEmptySecondBatch(t *testing.T) {
	b := New(10, nil)
	b.Enqueue(change("sensor.temp"))
	b.Enqueue(change("sensor.humidity"))

	first := b.Drain()
	if len(first) != 2 {
		t.Fatalf("Expected full batch of 2, got %d", len(first))
	}
	second := b.Drain()
	if len(second) != 0 {
		t.Fatalf("Expected empty second batch, got %d", len(second))
	}
}

func TestConcurrentEnqueueDrain(t *testing.T) {
	b := New(100, nil)
	const total = 1000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			b.Enqueue(change("sensor.temp"))
		}
	}()

	drained := 0
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			drained += len(b.Drain())
		}
	}()

	wg.Wait()
	drained += len(b.Drain())

	if drained > total {
		t.Errorf("Drained %d changes, more than %d enqueued", drained, total)
	}
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer after final drain, got %d", b.Len())
	}
}
