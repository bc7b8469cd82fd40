package analyzer

import (
	"reflect"
	"testing"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/event"
)

func TestMockDeterministic(t *testing.T) {
	m := NewMock()
	changes := batch("lock.front_door", "sensor.power_meter", "light.kitchen")

	a := m.Analyze(changes, event.Scope{"all"})
	b := m.Analyze(changes, event.Scope{"all"})
	if !reflect.DeepEqual(a, b) {
		t.Error("Mock output must be deterministic for the same batch")
	}
	if a.Cost.Cost != 0 {
		t.Errorf("Mock must be zero-cost, got %v", a.Cost.Cost)
	}
}

func TestMockSecurityHeuristic(t *testing.T) {
	m := NewMock()
	res := m.Analyze(batch("lock.front_door", "binary_sensor.door_back"), event.Scope{"security"})

	if len(res.Insights) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(res.Insights))
	}
	in := res.Insights[0]
	if in.Category != event.CategorySecurity {
		t.Errorf("Expected security category, got %s", in.Category)
	}
	if in.Confidence >= 0.81 {
		t.Errorf("Mock insights must be low confidence, got %v", in.Confidence)
	}
	if len(in.Entities) != 2 {
		t.Errorf("Expected both entities referenced, got %v", in.Entities)
	}
}

func TestMockRespectsScope(t *testing.T) {
	m := NewMock()
	res := m.Analyze(batch("lock.front_door", "sensor.power_meter"), event.Scope{"energy"})

	for _, in := range res.Insights {
		if in.Category != event.CategoryEnergy {
			t.Errorf("Insight outside scope: %+v", in)
		}
	}
}

func TestMockFlapHeuristic(t *testing.T) {
	m := NewMock()
	var changes []event.StateChange
	for i := 0; i < 5; i++ {
		changes = append(changes, event.NewStateChange("switch.pump", "off", "on", nil, time.Now()))
	}
	changes = append(changes, event.NewStateChange("switch.fan", "off", "on", nil, time.Now()))

	res := m.Analyze(changes, event.Scope{"device_health"})
	if len(res.Insights) != 1 {
		t.Fatalf("Expected 1 flapping insight, got %+v", res.Insights)
	}
	if res.Insights[0].Entities[0] != "switch.pump" {
		t.Errorf("Expected switch.pump flagged, got %v", res.Insights[0].Entities)
	}
}

func TestMockQuietBatch(t *testing.T) {
	m := NewMock()
	res := m.Analyze(batch("sensor.temp_livingroom"), event.Scope{"all"})
	if len(res.Insights) != 0 {
		t.Errorf("Expected no insights for a quiet batch, got %+v", res.Insights)
	}
}
