// Package analyzer turns batches of state changes into draft insights using
// a remote OpenAI-compatible API, a local inference endpoint, or a
// deterministic mock. Every failure path resolves to a well-formed result;
// Analyze never returns an error to the pipeline.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/config"
	"github.com/cortexhub/cortex-sentinel/internal/event"
	"github.com/cortexhub/cortex-sentinel/internal/metrics"
)

// Kind identifies which provider produced a result.
type Kind string

const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
	KindMock   Kind = "mock"
	// KindNone means the call was refused outright (fail closed).
	KindNone Kind = "none"
)

// InsightDraft is raw model output before filtering.
type InsightDraft struct {
	Category          string   `json:"category"`
	Message           string   `json:"message"`
	Confidence        float64  `json:"confidence"`
	Entities          []string `json:"entities,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
}

// CostInfo carries the actual cost of one analysis call.
type CostInfo struct {
	Model     string  `json:"model"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// Result is the outcome of one analysis cycle.
type Result struct {
	Provider Kind           `json:"provider"`
	Insights []InsightDraft `json:"insights"`
	Cost     CostInfo       `json:"cost_info"`
}

// Completion is the raw output of a real inference call.
type Completion struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// Client is the interface for real inference providers.
type Client interface {
	Infer(ctx context.Context, prompt string) (*Completion, error)
	Health() error
	Model() string
}

// budget is the slice of the cost ledger the analyzer needs.
type budget interface {
	Admit(estimatedCost float64, estimatedCalls int) bool
	Commit(actualCost float64, tokensIn, tokensOut int, model string)
}

// ChooseProvider is the pure selection strategy over mode, credential
// presence, admission result and local reachability.
func ChooseProvider(mode string, hasCredential, admitOK, localReachable bool) Kind {
	switch mode {
	case "remote":
		// Remote only. A denied budget or missing credential fails closed
		// rather than silently bypassing the budget.
		if hasCredential && admitOK {
			return KindRemote
		}
		return KindNone
	case "local":
		if localReachable {
			return KindLocal
		}
		return KindMock
	default: // auto
		if hasCredential && admitOK {
			return KindRemote
		}
		if localReachable {
			return KindLocal
		}
		return KindMock
	}
}

// Analyzer coordinates provider selection, budget gating, prompt building
// and response parsing.
type Analyzer struct {
	cfg    config.AnalysisConfig
	remote Client
	local  Client
	mock   *Mock
	ledger budget
	logger *slog.Logger
}

// New creates an Analyzer. remote and local may be nil when unconfigured.
func New(cfg config.AnalysisConfig, remote, local Client, ledger budget, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		remote: remote,
		local:  local,
		mock:   NewMock(),
		ledger: ledger,
		logger: logger,
	}
}

// Analyze examines a batch and returns draft insights plus actual cost.
func (a *Analyzer) Analyze(ctx context.Context, batch []event.StateChange, scope event.Scope) *Result {
	if len(batch) == 0 {
		return &Result{Provider: KindMock, Insights: nil}
	}

	estimate := a.EstimateCost()
	admitOK := a.ledger.Admit(estimate, 1)
	kind := ChooseProvider(a.cfg.Mode, a.hasCredential(), admitOK, a.localReachable())

	switch kind {
	case KindNone:
		a.logger.Warn("Analysis refused, remote mode without budget or credential")
		metrics.CyclesTotal.WithLabelValues(string(KindNone)).Inc()
		return &Result{Provider: KindNone}

	case KindRemote:
		completion, err := a.infer(ctx, a.remote, batch, scope)
		if err != nil {
			a.logger.Error("Remote provider failed, falling back to mock", "error", err)
			return a.mockResult(batch, scope)
		}
		// The call was billed whether or not the response parses; the spend
		// is committed from the returned usage before anything else.
		cost := a.computeCost(a.remote.Model(), completion.TokensIn, completion.TokensOut)
		a.ledger.Commit(cost.Cost, cost.TokensIn, cost.TokensOut, cost.Model)

		insights, err := a.parseCompletion(completion)
		if err != nil {
			res := a.mockResult(batch, scope)
			res.Cost = cost
			return res
		}
		metrics.CyclesTotal.WithLabelValues(string(KindRemote)).Inc()
		return &Result{Provider: KindRemote, Insights: insights, Cost: cost}

	case KindLocal:
		completion, err := a.infer(ctx, a.local, batch, scope)
		if err != nil {
			a.logger.Error("Local provider failed, falling back to mock", "error", err)
			return a.mockResult(batch, scope)
		}
		insights, err := a.parseCompletion(completion)
		if err != nil {
			return a.mockResult(batch, scope)
		}
		// Local inference is free; nothing is committed to the ledger.
		metrics.CyclesTotal.WithLabelValues(string(KindLocal)).Inc()
		return &Result{
			Provider: KindLocal,
			Insights: insights,
			Cost:     CostInfo{Model: a.local.Model(), TokensIn: completion.TokensIn, TokensOut: completion.TokensOut},
		}

	default:
		return a.mockResult(batch, scope)
	}
}

func (a *Analyzer) mockResult(batch []event.StateChange, scope event.Scope) *Result {
	metrics.CyclesTotal.WithLabelValues(string(KindMock)).Inc()
	return a.mock.Analyze(batch, scope)
}

func (a *Analyzer) hasCredential() bool {
	return a.remote != nil && a.remote.Health() == nil
}

func (a *Analyzer) localReachable() bool {
	return a.local != nil && a.local.Health() == nil
}

// infer runs one provider call under the configured timeout. Transport and
// timeout failures surface here; response parsing is a separate step so the
// caller can account usage from a completion it cannot parse.
func (a *Analyzer) infer(ctx context.Context, client Client, batch []event.StateChange, scope event.Scope) (*Completion, error) {
	prompt := a.buildPrompt(batch, scope)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.GetRequestTimeout())
	defer cancel()

	start := time.Now()
	completion, err := client.Infer(callCtx, prompt)
	metrics.AnalysisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("inference call failed: %w", err)
	}
	return completion, nil
}

func (a *Analyzer) parseCompletion(completion *Completion) ([]InsightDraft, error) {
	insights, err := parseInsights(completion.Content)
	if err != nil {
		a.logger.Warn("Malformed provider response, falling back to mock",
			"error", err, "raw", truncate(completion.Content, 500))
		return nil, err
	}
	return insights, nil
}

// EstimateCost returns the conservative pre-call estimate used for admission:
// a fixed ceiling from the prompt truncation bound and the max_tokens sent to
// the provider.
func (a *Analyzer) EstimateCost() float64 {
	pricing := a.pricingFor(a.cfg.Model)
	maxPromptTokens := promptBaseTokens + promptTokensPerChange*a.cfg.MaxPromptChanges
	return float64(maxPromptTokens)/1000*pricing.Input +
		float64(a.cfg.MaxOutputTokens)/1000*pricing.Output
}

func (a *Analyzer) computeCost(model string, tokensIn, tokensOut int) CostInfo {
	pricing := a.pricingFor(model)
	return CostInfo{
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost: float64(tokensIn)/1000*pricing.Input +
			float64(tokensOut)/1000*pricing.Output,
	}
}

func (a *Analyzer) pricingFor(model string) config.ModelPricing {
	if p, ok := a.cfg.Pricing[model]; ok {
		return p
	}
	// Unknown model: fall back to the configured default model's pricing so
	// spend accounting stays conservative rather than free.
	if p, ok := a.cfg.Pricing[a.cfg.Model]; ok {
		return p
	}
	a.logger.Warn("No pricing configured for model", "model", model)
	return config.ModelPricing{}
}

const (
	promptBaseTokens      = 300
	promptTokensPerChange = 100
)

func (a *Analyzer) buildPrompt(batch []event.StateChange, scope event.Scope) string {
	var b strings.Builder

	b.WriteString("You are an intelligent home monitoring system. Analyze the following Home Assistant state changes and provide structured insights.\n\n")
	fmt.Fprintf(&b, "Monitoring scope: %s\n", strings.Join(scope, ", "))
	fmt.Fprintf(&b, "Changes in this batch: %d\n\nState changes:\n", len(batch))

	// Bounded prompt size: only the most recent changes are embedded.
	start := 0
	if len(batch) > a.cfg.MaxPromptChanges {
		start = len(batch) - a.cfg.MaxPromptChanges
	}
	for _, ch := range batch[start:] {
		fmt.Fprintf(&b, "- %s (%s): %s -> %s at %s\n",
			ch.EntityID, ch.Domain, ch.OldState, ch.NewState,
			ch.Timestamp.UTC().Format(time.RFC3339))
	}

	b.WriteString(`
Respond with a JSON object in exactly this format:
{
  "insights": [
    {
      "category": "security|energy|climate|automation|device_health|general",
      "message": "description of the insight",
      "confidence": 0.0,
      "entities": ["entity_id"],
      "recommended_action": "suggested action if any"
    }
  ]
}

Focus on unusual patterns, security concerns, energy waste and device health issues. Only report genuine observations. Respond with JSON only.
`)

	return b.String()
}

// providerPayload is the strictly-typed shape expected from providers.
// "type" is accepted as a legacy alias for "category".
type providerPayload struct {
	Insights []struct {
		Category          string   `json:"category"`
		Type              string   `json:"type"`
		Message           string   `json:"message"`
		Confidence        float64  `json:"confidence"`
		Entities          []string `json:"entities"`
		RecommendedAction string   `json:"recommended_action"`
	} `json:"insights"`
}

func parseInsights(content string) ([]InsightDraft, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var payload providerPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	insights := make([]InsightDraft, 0, len(payload.Insights))
	for _, in := range payload.Insights {
		category := in.Category
		if category == "" {
			category = in.Type
		}
		insights = append(insights, InsightDraft{
			Category:          event.ValidCategory(category),
			Message:           in.Message,
			Confidence:        clampConfidence(in.Confidence),
			Entities:          in.Entities,
			RecommendedAction: in.RecommendedAction,
		})
	}
	return insights, nil
}

// extractJSON returns the outermost JSON object in a completion, tolerating
// markdown fences around it.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		// Some models report percentages.
		if c <= 100 {
			return c / 100
		}
		return 1
	}
	return c
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
