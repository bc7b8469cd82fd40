package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cortexhub/cortex-sentinel/internal/event"
)

// wsMessage covers the Home Assistant websocket frames we care about.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type wsStateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string   `json:"entity_id"`
		OldState *wsState `json:"old_state"`
		NewState *wsState `json:"new_state"`
	} `json:"data"`
}

type wsState struct {
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
}

// Stream subscribes to state_changed events over the Home Assistant
// websocket API and pushes scoped changes into a channel. It reconnects
// with backoff until the context is cancelled.
type Stream struct {
	wsURL  string
	token  string
	scope  event.Scope
	logger *slog.Logger
	seq    atomic.Int64
}

// NewStream creates a websocket event stream. baseURL is the same http(s)
// URL used for the REST API.
func NewStream(baseURL, token string, scope event.Scope, logger *slog.Logger) (*Stream, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/websocket"

	return &Stream{
		wsURL:  u.String(),
		token:  token,
		scope:  scope,
		logger: logger,
	}, nil
}

// Run connects and feeds state changes into out until ctx is cancelled.
// Connection loss triggers reconnection; the caller owns the channel.
func (s *Stream) Run(ctx context.Context, out chan<- event.StateChange) {
	backoff := time.Second
	for {
		if err := s.connectAndRead(ctx, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Websocket connection lost, reconnecting",
				"error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context, out chan<- event.StateChange) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	if err := s.authenticate(conn); err != nil {
		return err
	}
	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.logger.Info("Websocket subscribed to state_changed events")

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "event" {
			continue
		}
		change, ok := s.decodeEvent(msg.Event)
		if !ok {
			continue
		}

		select {
		case out <- change:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected first frame %q", hello.Type)
	}

	auth := map[string]string{"type": "auth", "access_token": s.token}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected: %s", result.Type)
	}
	return nil
}

func (s *Stream) subscribe(conn *websocket.Conn) error {
	id := s.seq.Add(1)
	sub := map[string]interface{}{
		"id":         id,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("failed to read subscribe ack: %w", err)
	}
	if ack.Type != "result" || !ack.Success {
		return fmt.Errorf("subscription rejected")
	}
	return nil
}

func (s *Stream) decodeEvent(raw json.RawMessage) (event.StateChange, bool) {
	var ev wsStateChangedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return event.StateChange{}, false
	}
	if ev.EventType != "state_changed" || ev.Data.NewState == nil {
		return event.StateChange{}, false
	}
	if !s.scope.AllowsDomain(entityDomain(ev.Data.EntityID)) {
		return event.StateChange{}, false
	}

	oldState := ""
	if ev.Data.OldState != nil {
		oldState = ev.Data.OldState.State
	}
	change := event.NewStateChange(
		ev.Data.EntityID,
		oldState,
		ev.Data.NewState.State,
		flattenAttributes(ev.Data.NewState.Attributes),
		ev.Data.NewState.LastChanged,
	)
	return change, true
}
