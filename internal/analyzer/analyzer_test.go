package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/config"
	"github.com/cortexhub/cortex-sentinel/internal/event"
)

type fakeClient struct {
	model      string
	completion *Completion
	inferErr   error
	healthErr  error
	calls      int
}

func (f *fakeClient) Infer(_ context.Context, _ string) (*Completion, error) {
	f.calls++
	if f.inferErr != nil {
		return nil, f.inferErr
	}
	return f.completion, nil
}

func (f *fakeClient) Health() error { return f.healthErr }
func (f *fakeClient) Model() string { return f.model }

type fakeBudget struct {
	admitOK   bool
	committed []float64
	tokensIn  int
	tokensOut int
}

func (f *fakeBudget) Admit(float64, int) bool { return f.admitOK }

func (f *fakeBudget) Commit(cost float64, in, out int, _ string) {
	f.committed = append(f.committed, cost)
	f.tokensIn += in
	f.tokensOut += out
}

func testConfig(mode string) config.AnalysisConfig {
	return config.AnalysisConfig{
		Mode:             mode,
		Model:            "gpt-4o-mini",
		InsightThreshold: 0.8,
		MaxPromptChanges: 10,
		MaxOutputTokens:  1000,
		RequestTimeout:   "5s",
		Pricing: map[string]config.ModelPricing{
			"gpt-4o-mini": {Input: 0.00015, Output: 0.0006},
		},
	}
}

func batch(entities ...string) []event.StateChange {
	out := make([]event.StateChange, 0, len(entities))
	for _, e := range entities {
		out = append(out, event.NewStateChange(e, "off", "on", nil, time.Unix(1756000000, 0)))
	}
	return out
}

func TestChooseProvider(t *testing.T) {
	tests := []struct {
		mode                           string
		hasCred, admitOK, localReached bool
		want                           Kind
	}{
		{"auto", true, true, true, KindRemote},
		{"auto", true, false, true, KindLocal},
		{"auto", true, false, false, KindMock},
		{"auto", false, true, true, KindLocal},
		{"auto", false, true, false, KindMock},
		{"remote", true, true, false, KindRemote},
		{"remote", true, false, true, KindNone},
		{"remote", false, true, false, KindNone},
		{"local", false, false, true, KindLocal},
		{"local", true, true, false, KindMock},
	}
	for _, tt := range tests {
		got := ChooseProvider(tt.mode, tt.hasCred, tt.admitOK, tt.localReached)
		if got != tt.want {
			t.Errorf("ChooseProvider(%s, %v, %v, %v) = %s, want %s",
				tt.mode, tt.hasCred, tt.admitOK, tt.localReached, got, tt.want)
		}
	}
}

func TestAnalyzeEmptyBatch(t *testing.T) {
	a := New(testConfig("auto"), nil, nil, &fakeBudget{admitOK: true}, slog.Default())
	res := a.Analyze(context.Background(), nil, event.Scope{"all"})
	if len(res.Insights) != 0 {
		t.Errorf("Expected no insights for empty batch, got %d", len(res.Insights))
	}
}

func TestAnalyzeRemoteSuccess(t *testing.T) {
	remote := &fakeClient{
		model: "gpt-4o-mini",
		completion: &Completion{
			Content:   `{"insights":[{"category":"climate","message":"temperature drifting","confidence":0.9,"entities":["sensor.temp"]}]}`,
			TokensIn:  1000,
			TokensOut: 200,
		},
	}
	b := &fakeBudget{admitOK: true}
	a := New(testConfig("auto"), remote, nil, b, slog.Default())

	res := a.Analyze(context.Background(), batch("sensor.temp"), event.Scope{"climate"})
	if res.Provider != KindRemote {
		t.Fatalf("Expected remote provider, got %s", res.Provider)
	}
	if len(res.Insights) != 1 || res.Insights[0].Category != "climate" {
		t.Fatalf("Unexpected insights: %+v", res.Insights)
	}

	// cost = 1000/1000*0.00015 + 200/1000*0.0006
	wantCost := 0.00015 + 0.00012
	if len(b.committed) != 1 || math.Abs(b.committed[0]-wantCost) > 1e-12 {
		t.Errorf("Expected committed cost %v, got %v", wantCost, b.committed)
	}
	if math.Abs(res.Cost.Cost-wantCost) > 1e-12 {
		t.Errorf("Expected result cost %v, got %v", wantCost, res.Cost.Cost)
	}
}

func TestAnalyzeRemoteFailureFallsBackToMock(t *testing.T) {
	remote := &fakeClient{model: "gpt-4o-mini", inferErr: fmt.Errorf("timeout")}
	b := &fakeBudget{admitOK: true}
	a := New(testConfig("auto"), remote, nil, b, slog.Default())

	changes := batch("lock.front_door", "sensor.power_meter")
	res := a.Analyze(context.Background(), changes, event.Scope{"all"})

	want := NewMock().Analyze(changes, event.Scope{"all"})
	if res.Provider != KindMock {
		t.Fatalf("Expected mock provider, got %s", res.Provider)
	}
	if !reflect.DeepEqual(res.Insights, want.Insights) {
		t.Errorf("Expected deterministic mock output\ngot  %+v\nwant %+v", res.Insights, want.Insights)
	}
	if len(b.committed) != 0 {
		t.Error("Ledger must be unchanged after provider failure")
	}
}

func TestAnalyzeMalformedResponseCommitsUsage(t *testing.T) {
	remote := &fakeClient{
		model: "gpt-4o-mini",
		completion: &Completion{
			Content:   "I could not produce JSON today.",
			TokensIn:  1000,
			TokensOut: 200,
		},
	}
	b := &fakeBudget{admitOK: true}
	a := New(testConfig("auto"), remote, nil, b, slog.Default())

	changes := batch("lock.front_door")
	res := a.Analyze(context.Background(), changes, event.Scope{"all"})
	if res.Provider != KindMock {
		t.Fatalf("Expected mock fallback, got %s", res.Provider)
	}

	// The provider billed the call even though the response is unusable, so
	// the usage-derived cost lands in the ledger and on the result.
	wantCost := 1.0*0.00015 + 0.2*0.0006
	if len(b.committed) != 1 || math.Abs(b.committed[0]-wantCost) > 1e-12 {
		t.Errorf("Expected committed cost %v after malformed response, got %v", wantCost, b.committed)
	}
	if math.Abs(res.Cost.Cost-wantCost) > 1e-12 {
		t.Errorf("Expected result cost %v, got %v", wantCost, res.Cost.Cost)
	}

	want := NewMock().Analyze(changes, event.Scope{"all"})
	if !reflect.DeepEqual(res.Insights, want.Insights) {
		t.Errorf("Expected deterministic mock insights\ngot  %+v\nwant %+v", res.Insights, want.Insights)
	}
}

func TestAnalyzeRemoteModeFailsClosed(t *testing.T) {
	remote := &fakeClient{model: "gpt-4o-mini"}
	b := &fakeBudget{admitOK: false}
	a := New(testConfig("remote"), remote, nil, b, slog.Default())

	res := a.Analyze(context.Background(), batch("sensor.temp"), event.Scope{"all"})
	if res.Provider != KindNone {
		t.Fatalf("Expected fail-closed result, got %s", res.Provider)
	}
	if len(res.Insights) != 0 {
		t.Errorf("Expected no insights, got %d", len(res.Insights))
	}
	if remote.calls != 0 {
		t.Error("Remote must not be called when budget is denied")
	}
}

func TestAnalyzeNoCredentialUsesMock(t *testing.T) {
	remote := &fakeClient{model: "gpt-4o-mini", healthErr: fmt.Errorf("API key is not configured")}
	b := &fakeBudget{admitOK: true}
	a := New(testConfig("auto"), remote, nil, b, slog.Default())

	res := a.Analyze(context.Background(), batch("sensor.temp"), event.Scope{"all"})
	if res.Provider != KindMock {
		t.Fatalf("Expected mock without credential, got %s", res.Provider)
	}
	if remote.calls != 0 {
		t.Error("Remote must not be called without a credential")
	}
}

func TestAnalyzeLocalIsFree(t *testing.T) {
	local := &fakeClient{
		model: "llama3.2:3b",
		completion: &Completion{
			Content:   `{"insights":[]}`,
			TokensIn:  500,
			TokensOut: 100,
		},
	}
	b := &fakeBudget{admitOK: false}
	a := New(testConfig("local"), nil, local, b, slog.Default())

	res := a.Analyze(context.Background(), batch("sensor.temp"), event.Scope{"all"})
	if res.Provider != KindLocal {
		t.Fatalf("Expected local provider, got %s", res.Provider)
	}
	if len(b.committed) != 0 {
		t.Error("Local calls must not be committed to the ledger")
	}
	if res.Cost.Cost != 0 {
		t.Errorf("Expected zero cost for local, got %v", res.Cost.Cost)
	}
}

func TestEstimateCostConservative(t *testing.T) {
	a := New(testConfig("auto"), nil, nil, &fakeBudget{}, slog.Default())
	// ceiling: (300 + 100*10)/1000 * 0.00015 + 1000/1000 * 0.0006
	want := 1.3*0.00015 + 0.0006
	if got := a.EstimateCost(); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected estimate %v, got %v", want, got)
	}
}

func TestParseInsightsFencedJSON(t *testing.T) {
	content := "```json\n{\"insights\":[{\"type\":\"security\",\"message\":\"door opened\",\"confidence\":85,\"entities\":[\"lock.door\"]}]}\n```"
	insights, err := parseInsights(content)
	if err != nil {
		t.Fatalf("parseInsights failed: %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(insights))
	}
	if insights[0].Category != "security" {
		t.Errorf("Expected legacy type field mapped to category, got %s", insights[0].Category)
	}
	if insights[0].Confidence != 0.85 {
		t.Errorf("Expected percentage confidence clamped to 0.85, got %v", insights[0].Confidence)
	}
}

func TestParseInsightsMalformed(t *testing.T) {
	if _, err := parseInsights("no json here"); err == nil {
		t.Error("Expected error for missing JSON")
	}
	if _, err := parseInsights(`{"insights": "not-a-list"}`); err == nil {
		t.Error("Expected error for wrong type")
	}
}

func TestBuildPromptTruncation(t *testing.T) {
	cfg := testConfig("auto")
	cfg.MaxPromptChanges = 2
	a := New(cfg, nil, nil, &fakeBudget{}, slog.Default())

	changes := batch("sensor.a", "sensor.b", "sensor.c")
	prompt := a.buildPrompt(changes, event.Scope{"all"})

	if !strings.Contains(prompt, "sensor.c") || strings.Contains(prompt, "sensor.a") {
		t.Errorf("Expected only the most recent changes in prompt:\n%s", prompt)
	}
}
