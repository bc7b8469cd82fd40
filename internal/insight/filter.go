// Package insight filters draft insights into admissible alerts: confidence
// threshold, monitoring scope, and suppression-window deduplication.
package insight

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cortexhub/cortex-sentinel/internal/analyzer"
	"github.com/cortexhub/cortex-sentinel/internal/event"
	"github.com/cortexhub/cortex-sentinel/internal/metrics"
	"github.com/cortexhub/cortex-sentinel/internal/store"
)

// journal is the slice of the persistence layer the filter needs.
type journal interface {
	AppendInsight(ctx context.Context, rec *store.InsightRecord) error
	HasEquivalentInsight(ctx context.Context, category, primaryEntity string, since time.Time) (bool, error)
}

// Filter decides which draft insights become alerts. Accepted insights are
// persisted before being handed to the dispatcher.
type Filter struct {
	journal           journal
	threshold         float64
	scope             event.Scope
	window            time.Duration
	informationalPass bool
	now               func() time.Time
	logger            *slog.Logger
}

// New creates a Filter. When informationalPass is set, in-scope drafts below
// the threshold are returned separately for the informational channel
// instead of being dropped.
func New(j journal, threshold float64, scope event.Scope, window time.Duration, informationalPass bool, logger *slog.Logger) *Filter {
	return &Filter{
		journal:           j,
		threshold:         threshold,
		scope:             scope,
		window:            window,
		informationalPass: informationalPass,
		now:               time.Now,
		logger:            logger,
	}
}

// Process filters one cycle's drafts. It returns the accepted insights and,
// when the informational pass is enabled, the below-threshold ones. Both
// sets are persisted and deduplicated; only the channel differs downstream.
func (f *Filter) Process(ctx context.Context, drafts []analyzer.InsightDraft) (accepted, informational []store.InsightRecord) {
	for _, draft := range drafts {
		category := event.ValidCategory(draft.Category)

		if !f.scope.ContainsCategory(category) {
			f.logger.Debug("Insight rejected, category out of scope", "category", category)
			metrics.InsightsTotal.WithLabelValues("out_of_scope").Inc()
			continue
		}

		belowThreshold := draft.Confidence < f.threshold
		if belowThreshold && !f.informationalPass {
			f.logger.Debug("Insight rejected, confidence below threshold",
				"confidence", draft.Confidence, "threshold", f.threshold)
			metrics.InsightsTotal.WithLabelValues("below_threshold").Inc()
			continue
		}

		rec := store.InsightRecord{
			ID:                uuid.NewString(),
			Category:          category,
			Message:           draft.Message,
			Confidence:        draft.Confidence,
			RecommendedAction: draft.RecommendedAction,
			Entities:          draft.Entities,
			CreatedAt:         f.now(),
		}

		if f.suppressed(ctx, &rec) {
			f.logger.Debug("Insight suppressed, equivalent recorded within window",
				"category", rec.Category, "entity", rec.PrimaryEntity())
			metrics.InsightsTotal.WithLabelValues("suppressed").Inc()
			continue
		}

		// Persist before dispatch so a crash mid-notification never loses the
		// insight. A write failure degrades durability only; the insight
		// still flows downstream for this run.
		if err := f.journal.AppendInsight(ctx, &rec); err != nil {
			f.logger.Error("Failed to persist insight", "error", err, "id", rec.ID)
		}

		if belowThreshold {
			metrics.InsightsTotal.WithLabelValues("informational").Inc()
			informational = append(informational, rec)
		} else {
			metrics.InsightsTotal.WithLabelValues("accepted").Inc()
			accepted = append(accepted, rec)
		}
	}
	return accepted, informational
}

func (f *Filter) suppressed(ctx context.Context, rec *store.InsightRecord) bool {
	since := f.now().Add(-f.window)
	found, err := f.journal.HasEquivalentInsight(ctx, rec.Category, rec.PrimaryEntity(), since)
	if err != nil {
		f.logger.Error("Suppression lookup failed, letting insight through", "error", err)
		return false
	}
	return found
}

// SetClock overrides the time source. Test hook.
func (f *Filter) SetClock(now func() time.Time) {
	f.now = now
}
