// Package hass delivers notifications through Home Assistant's service API.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/notify"
)

// Sink calls a Home Assistant notify service. The special service name
// "persistent_notification" uses persistent_notification.create instead,
// which needs no mobile app or integration to be set up.
type Sink struct {
	baseURL string
	token   string
	service string
	client  *http.Client
}

// New creates a Home Assistant notification sink.
func New(baseURL, token, service string) *Sink {
	return &Sink{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		service: service,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Sink) Name() string { return "home_assistant" }

// Send posts a service call. Informational messages always go to the
// persistent notification panel so they never page anyone.
func (s *Sink) Send(ctx context.Context, channel, title, message string) error {
	service := s.service
	if channel == notify.ChannelInfo {
		service = "persistent_notification"
	}

	var path string
	payload := map[string]any{
		"title":   title,
		"message": message,
	}
	if service == "persistent_notification" {
		path = "/api/services/persistent_notification/create"
		payload["notification_id"] = fmt.Sprintf("sentinel_%d", time.Now().UnixNano())
	} else {
		path = "/api/services/notify/" + service
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal service payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("service call returned status %d", resp.StatusCode)
	}
	return nil
}
