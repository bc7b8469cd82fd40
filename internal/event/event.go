// Package event defines the state-change records flowing through the pipeline
// and the monitoring scope that gates them.
package event

import (
	"strings"
	"time"
)

// StateChange is one entity transition ingested from Home Assistant.
// Immutable once created.
type StateChange struct {
	EntityID   string            `json:"entity_id"`
	Domain     string            `json:"domain"`
	OldState   string            `json:"old_state"`
	NewState   string            `json:"new_state"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewStateChange builds a StateChange, deriving the domain from the
// entity id prefix ("sensor.kitchen_temp" -> "sensor").
func NewStateChange(entityID, oldState, newState string, attrs map[string]string, ts time.Time) StateChange {
	domain := entityID
	if i := strings.Index(entityID, "."); i > 0 {
		domain = entityID[:i]
	}
	return StateChange{
		EntityID:   entityID,
		Domain:     domain,
		OldState:   oldState,
		NewState:   newState,
		Attributes: attrs,
		Timestamp:  ts,
	}
}

// Insight categories understood by the pipeline.
const (
	CategorySecurity     = "security"
	CategoryEnergy       = "energy"
	CategoryClimate      = "climate"
	CategoryAutomation   = "automation"
	CategoryDeviceHealth = "device_health"
	CategoryGeneral      = "general"
)

// scopeDomains maps a scope tag to the Home Assistant domains it covers.
var scopeDomains = map[string][]string{
	CategoryClimate:      {"climate", "weather", "sensor"},
	CategorySecurity:     {"binary_sensor", "alarm_control_panel", "lock", "camera"},
	CategoryEnergy:       {"sensor", "switch", "light"},
	CategoryAutomation:   {"automation", "script"},
	CategoryDeviceHealth: {"sensor", "binary_sensor"},
}

// Scope is the set of category tags being monitored. An empty scope or one
// containing "all" accepts everything.
type Scope []string

// IsAll reports whether the scope accepts every domain and category.
func (s Scope) IsAll() bool {
	if len(s) == 0 {
		return true
	}
	for _, tag := range s {
		if tag == "all" {
			return true
		}
	}
	return false
}

// AllowsDomain reports whether a change in the given domain is monitored.
func (s Scope) AllowsDomain(domain string) bool {
	if s.IsAll() {
		return true
	}
	for _, tag := range s {
		for _, d := range scopeDomains[tag] {
			if d == domain {
				return true
			}
		}
	}
	return false
}

// ContainsCategory reports whether an insight category is within scope.
func (s Scope) ContainsCategory(category string) bool {
	if s.IsAll() {
		return true
	}
	for _, tag := range s {
		if tag == category {
			return true
		}
	}
	return false
}

// ValidCategory normalizes a provider-reported category, falling back to
// general for anything unknown.
func ValidCategory(category string) string {
	switch category {
	case CategorySecurity, CategoryEnergy, CategoryClimate,
		CategoryAutomation, CategoryDeviceHealth, CategoryGeneral:
		return category
	case "pattern", "patterns":
		return CategoryGeneral
	default:
		return CategoryGeneral
	}
}
