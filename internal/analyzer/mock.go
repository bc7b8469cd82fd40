package analyzer

import (
	"fmt"
	"strings"

	"github.com/cortexhub/cortex-sentinel/internal/event"
)

// Flapping threshold: an entity changing state more often than this within
// one batch is reported as a device health concern.
const flapThreshold = 3

// Mock is the deterministic, zero-cost fallback provider. It derives
// low-confidence synthetic insights from simple heuristics over the batch
// and guarantees the pipeline always produces output.
type Mock struct{}

// NewMock creates the mock provider.
func NewMock() *Mock {
	return &Mock{}
}

// Analyze produces a deterministic result for a batch. The same batch and
// scope always yield the same insights.
func (m *Mock) Analyze(batch []event.StateChange, scope event.Scope) *Result {
	var insights []InsightDraft

	if scope.ContainsCategory(event.CategorySecurity) {
		var entities []string
		for _, ch := range batch {
			if strings.Contains(ch.EntityID, "door") || strings.Contains(ch.EntityID, "lock") {
				entities = append(entities, ch.EntityID)
			}
		}
		if len(entities) > 0 {
			insights = append(insights, InsightDraft{
				Category:   event.CategorySecurity,
				Message:    fmt.Sprintf("Security activity detected: %d security-related changes", len(entities)),
				Confidence: 0.8,
				Entities:   firstN(entities, 3),
			})
		}
	}

	if scope.ContainsCategory(event.CategoryEnergy) {
		var entities []string
		for _, ch := range batch {
			if strings.Contains(ch.EntityID, "power") || strings.Contains(ch.EntityID, "energy") {
				entities = append(entities, ch.EntityID)
			}
		}
		if len(entities) > 0 {
			insights = append(insights, InsightDraft{
				Category:   event.CategoryEnergy,
				Message:    fmt.Sprintf("Energy monitoring: %d power-related changes", len(entities)),
				Confidence: 0.6,
				Entities:   firstN(entities, 3),
			})
		}
	}

	if scope.ContainsCategory(event.CategoryDeviceHealth) {
		counts := make(map[string]int)
		order := make([]string, 0)
		for _, ch := range batch {
			if counts[ch.EntityID] == 0 {
				order = append(order, ch.EntityID)
			}
			counts[ch.EntityID]++
		}
		for _, entity := range order {
			if counts[entity] > flapThreshold {
				insights = append(insights, InsightDraft{
					Category:   event.CategoryDeviceHealth,
					Message:    fmt.Sprintf("Entity %s changed state %d times in one batch", entity, counts[entity]),
					Confidence: 0.65,
					Entities:   []string{entity},
				})
			}
		}
	}

	return &Result{
		Provider: KindMock,
		Insights: insights,
		Cost:     CostInfo{Model: "mock"},
	}
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
