// Package monitor runs the monitoring loop: polling Home Assistant for
// state changes and periodically analyzing what accumulated.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/analyzer"
	"github.com/cortexhub/cortex-sentinel/internal/buffer"
	"github.com/cortexhub/cortex-sentinel/internal/event"
	"github.com/cortexhub/cortex-sentinel/internal/store"
)

// changeSource yields state changes recorded since the given cursor.
type changeSource interface {
	Changes(ctx context.Context, since time.Time) ([]event.StateChange, error)
}

// batchAnalyzer turns one drained batch into draft insights.
type batchAnalyzer interface {
	Analyze(ctx context.Context, changes []event.StateChange, scope event.Scope) *analyzer.Result
}

// insightFilter gates drafts into dispatchable insights.
type insightFilter interface {
	Process(ctx context.Context, drafts []analyzer.InsightDraft) (accepted, informational []store.InsightRecord)
}

// dispatcher delivers filtered insights.
type dispatcher interface {
	Dispatch(ctx context.Context, insights []store.InsightRecord)
	DispatchInformational(ctx context.Context, insights []store.InsightRecord)
}

// Publisher forwards accepted insights to the insight bus.
type Publisher interface {
	Publish(ctx context.Context, ins *store.InsightRecord)
}

// Monitor owns the two cadences of the pipeline. The poll tick feeds the
// buffer; the analysis tick drains it through analyzer, filter and
// dispatcher. Analysis cycles never overlap: a tick that fires while a
// cycle is still running is skipped, its changes simply ride along with
// the next cycle.
type Monitor struct {
	source     changeSource
	buf        *buffer.ChangeBuffer
	analyzer   batchAnalyzer
	filter     insightFilter
	dispatcher dispatcher
	bus        Publisher
	scope      event.Scope

	checkInterval    time.Duration
	analysisInterval time.Duration

	cursor    time.Time
	analyzing atomic.Bool
	logger    *slog.Logger
}

// New creates a Monitor. bus may be nil when the insight bus is disabled.
func New(src changeSource, buf *buffer.ChangeBuffer, a batchAnalyzer, f insightFilter,
	d dispatcher, bus Publisher, scope event.Scope,
	checkInterval, analysisInterval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		source:           src,
		buf:              buf,
		analyzer:         a,
		filter:           f,
		dispatcher:       d,
		bus:              bus,
		scope:            scope,
		checkInterval:    checkInterval,
		analysisInterval: analysisInterval,
		cursor:           time.Now().UTC(),
		logger:           logger,
	}
}

// Run blocks until ctx is cancelled, driving both tickers. When events is
// non-nil (websocket mode) changes arrive through it and polling is skipped.
func (m *Monitor) Run(ctx context.Context, events <-chan event.StateChange) {
	m.logger.Info("Monitor started",
		"check_interval", m.checkInterval, "analysis_interval", m.analysisInterval,
		"scope", m.scope, "websocket", events != nil)

	analysisTicker := time.NewTicker(m.analysisInterval)
	defer analysisTicker.Stop()

	var pollTick <-chan time.Time
	if events == nil {
		pollTicker := time.NewTicker(m.checkInterval)
		defer pollTicker.Stop()
		pollTick = pollTicker.C
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return

		case ch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.buf.Enqueue(ch)

		case <-pollTick:
			m.PollOnce(ctx)

		case <-analysisTicker.C:
			if !m.analyzing.CompareAndSwap(false, true) {
				m.logger.Debug("Analysis still in flight, skipping tick")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer m.analyzing.Store(false)
				m.AnalyzeOnce(ctx)
			}()
		}
	}
}

// PollOnce fetches changes since the cursor and buffers them. The cursor
// only advances on success so a failed poll is retried over the same window.
func (m *Monitor) PollOnce(ctx context.Context) {
	changes, err := m.source.Changes(ctx, m.cursor)
	if err != nil {
		m.logger.Error("Poll failed", "error", err)
		return
	}
	m.cursor = time.Now().UTC()

	accepted := 0
	for _, ch := range changes {
		if m.buf.Enqueue(ch) {
			accepted++
		}
	}
	if accepted > 0 {
		m.logger.Debug("Changes buffered", "accepted", accepted, "seen", len(changes))
	}
}

// AnalyzeOnce drains the buffer and runs one full analysis cycle.
func (m *Monitor) AnalyzeOnce(ctx context.Context) {
	batch := m.buf.Drain()
	if len(batch) == 0 {
		m.logger.Debug("Nothing buffered, skipping analysis cycle")
		return
	}

	result := m.analyzer.Analyze(ctx, batch, m.scope)
	accepted, informational := m.filter.Process(ctx, result.Insights)

	m.logger.Info("Analysis cycle complete",
		"changes", len(batch), "provider", result.Provider,
		"drafts", len(result.Insights), "accepted", len(accepted),
		"cost", result.Cost.Cost)

	if len(accepted) > 0 {
		m.dispatcher.Dispatch(ctx, accepted)
		if m.bus != nil {
			for i := range accepted {
				m.bus.Publish(ctx, &accepted[i])
			}
		}
	}
	if len(informational) > 0 {
		m.dispatcher.DispatchInformational(ctx, informational)
	}
}

// SetCursor overrides the poll cursor. Test hook.
func (m *Monitor) SetCursor(t time.Time) {
	m.cursor = t
}
