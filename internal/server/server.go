// Package server exposes the HTTP status API: health, usage, recent
// insights and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexhub/cortex-sentinel/internal/ledger"
	"github.com/cortexhub/cortex-sentinel/internal/store"
)

// sourceHealth checks the upstream Home Assistant connection.
type sourceHealth interface {
	Health(ctx context.Context) error
}

// bufferLen reports how many changes are waiting for analysis.
type bufferLen interface {
	Len() int
}

// Server serves the status API.
type Server struct {
	store      *store.Store
	ledger     *ledger.Ledger
	source     sourceHealth
	buf        bufferLen
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is the /api/v1/status body.
type StatusResponse struct {
	Status          string             `json:"status"`
	Uptime          string             `json:"uptime"`
	HomeAssistantOK bool               `json:"homeassistant_ok"`
	BufferedChanges int                `json:"buffered_changes"`
	Today           store.CostDay      `json:"today"`
	RemainingBudget float64            `json:"remaining_budget"`
	RemainingCalls  int                `json:"remaining_calls"`
	Insights        store.InsightStats `json:"insights"`
	Timestamp       string             `json:"timestamp"`
}

// UsageResponse is the /api/v1/usage body.
type UsageResponse struct {
	Today  store.CostDay `json:"today"`
	Cost7d float64       `json:"cost_7d"`
	Cost30 float64       `json:"cost_30d"`
}

// InsightsResponse is the /api/v1/insights body.
type InsightsResponse struct {
	Hours    int                   `json:"hours"`
	Insights []store.InsightRecord `json:"insights"`
}

// New creates the status server listening on host:port.
func New(host string, port int, st *store.Store, l *ledger.Ledger, src sourceHealth, buf bufferLen, logger *slog.Logger) *Server {
	s := &Server{
		store:     st,
		ledger:    l,
		source:    src,
		buf:       buf,
		startTime: time.Now(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/api/v1/status", s.statusHandler)
	mux.HandleFunc("/api/v1/insights", s.insightsHandler)
	mux.HandleFunc("/api/v1/usage", s.usageHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Status server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	haOK := true
	if err := s.source.Health(ctx); err != nil {
		haOK = false
	}

	stats, err := s.store.Stats(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to load insight stats", "error", err)
		stats = &store.InsightStats{ByCategory: map[string]int{}}
	}

	status := "ok"
	if !haOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:          status,
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		HomeAssistantOK: haOK,
		BufferedChanges: s.buf.Len(),
		Today:           s.ledger.Snapshot(),
		RemainingBudget: s.ledger.RemainingBudget(),
		RemainingCalls:  s.ledger.RemainingCalls(),
		Insights:        *stats,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) insightsHandler(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 24*30 {
			http.Error(w, "hours must be a positive integer up to 720", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	insights, err := s.store.RecentInsights(r.Context(), since)
	if err != nil {
		s.logger.Error("Failed to load insights", "error", err)
		http.Error(w, "failed to load insights", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, InsightsResponse{Hours: hours, Insights: insights})
}

func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	cost7, err := s.store.SumCostSince(ctx, now.AddDate(0, 0, -7).Format("2006-01-02"))
	if err != nil {
		s.logger.Error("Failed to sum 7d cost", "error", err)
	}
	cost30, err := s.store.SumCostSince(ctx, now.AddDate(0, 0, -30).Format("2006-01-02"))
	if err != nil {
		s.logger.Error("Failed to sum 30d cost", "error", err)
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Today:  s.ledger.Snapshot(),
		Cost7d: cost7,
		Cost30: cost30,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
