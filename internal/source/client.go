// Package source ingests state changes from Home Assistant, either by
// polling the history API or by subscribing to the event websocket.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/event"
)

// historyChunkSize bounds how many entity ids go into one history query.
// Home Assistant rejects overly long filter_entity_id parameters.
const historyChunkSize = 150

// haState is one entity state as returned by /api/states.
type haState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
}

// Client talks to the Home Assistant REST API.
type Client struct {
	baseURL string
	token   string
	scope   event.Scope
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a Home Assistant API client.
func NewClient(baseURL, token string, scope event.Scope, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		scope:   scope,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health checks API reachability via /api/.
func (c *Client) Health(ctx context.Context) error {
	var status struct {
		Message string `json:"message"`
	}
	return c.get(ctx, "/api/", nil, &status)
}

// ScopedEntities returns the ids of entities within the monitoring scope.
// This is also the baseline established at startup.
func (c *Client) ScopedEntities(ctx context.Context) ([]string, error) {
	var states []haState
	if err := c.get(ctx, "/api/states", nil, &states); err != nil {
		return nil, fmt.Errorf("failed to fetch states: %w", err)
	}

	ids := make([]string, 0, len(states))
	for _, s := range states {
		domain := entityDomain(s.EntityID)
		if c.scope.AllowsDomain(domain) {
			ids = append(ids, s.EntityID)
		}
	}
	return ids, nil
}

// Changes returns state transitions recorded between since and now. The
// history API is queried in entity-id chunks; a failed chunk is skipped so
// one bad entity never hides the rest.
func (c *Client) Changes(ctx context.Context, since time.Time) ([]event.StateChange, error) {
	ids, err := c.ScopedEntities(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var changes []event.StateChange
	for start := 0; start < len(ids); start += historyChunkSize {
		end := start + historyChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		query := url.Values{}
		query.Set("end_time", now.Format(time.RFC3339))
		query.Set("minimal_response", "1")
		query.Set("filter_entity_id", strings.Join(ids[start:end], ","))

		path := "/api/history/period/" + since.UTC().Format(time.RFC3339)
		var history [][]haState
		if err := c.get(ctx, path, query, &history); err != nil {
			c.logger.Warn("History chunk failed", "entities", end-start, "error", err)
			continue
		}
		changes = append(changes, extractChanges(history)...)
	}

	c.logger.Debug("History poll complete", "entities", len(ids), "changes", len(changes))
	return changes, nil
}

// extractChanges walks each entity's timeline and emits one StateChange per
// observed transition.
func extractChanges(history [][]haState) []event.StateChange {
	var out []event.StateChange
	for _, timeline := range history {
		for i := 1; i < len(timeline); i++ {
			prev, curr := timeline[i-1], timeline[i]
			if prev.State == curr.State {
				continue
			}
			// minimal_response omits entity_id on later entries
			entityID := curr.EntityID
			if entityID == "" {
				entityID = timeline[0].EntityID
			}
			out = append(out, event.NewStateChange(
				entityID, prev.State, curr.State,
				flattenAttributes(curr.Attributes), curr.LastChanged))
		}
	}
	return out
}

// flattenAttributes keeps scalar attributes as strings and drops nested
// structures, which the analysis prompt has no use for.
func flattenAttributes(attrs map[string]interface{}) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = fmt.Sprintf("%g", val)
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func entityDomain(entityID string) string {
	if i := strings.Index(entityID, "."); i > 0 {
		return entityID[:i]
	}
	return entityID
}
