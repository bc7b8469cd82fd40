// Package notify dispatches accepted insights to the configured
// notification sinks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cortexhub/cortex-sentinel/internal/metrics"
	"github.com/cortexhub/cortex-sentinel/internal/store"
)

// Channel names understood by sinks.
const (
	ChannelAlert = "alert"
	ChannelInfo  = "info"
)

// Sink delivers one notification to an external service.
type Sink interface {
	// Send delivers a message on the given channel ("alert" or "info").
	Send(ctx context.Context, channel, title, message string) error

	// Name identifies the sink in logs and the delivery log.
	Name() string
}

// deliveryLog is the slice of the persistence layer the dispatcher needs.
type deliveryLog interface {
	LogNotification(ctx context.Context, rec *store.NotificationRecord) error
}

// Dispatcher fans accepted insights out to every configured sink. One failed
// delivery never blocks delivery of subsequent insights in the same cycle.
type Dispatcher struct {
	sinks  []Sink
	log    deliveryLog
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given sinks.
func NewDispatcher(sinks []Sink, log deliveryLog, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log, logger: logger}
}

// Dispatch delivers accepted insights on the alert channel.
func (d *Dispatcher) Dispatch(ctx context.Context, insights []store.InsightRecord) {
	for _, ins := range insights {
		d.deliver(ctx, ChannelAlert, &ins)
	}
}

// DispatchInformational delivers below-threshold insights on the separate
// informational channel.
func (d *Dispatcher) DispatchInformational(ctx context.Context, insights []store.InsightRecord) {
	for _, ins := range insights {
		d.deliver(ctx, ChannelInfo, &ins)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, channel string, ins *store.InsightRecord) {
	title := formatTitle(ins, channel)
	message := formatMessage(ins)

	for _, sink := range d.sinks {
		status := "sent"
		if err := sink.Send(ctx, channel, title, message); err != nil {
			status = "failed"
			d.logger.Error("Notification delivery failed",
				"sink", sink.Name(), "insight_id", ins.ID, "error", err)
		} else {
			d.logger.Info("Notification sent",
				"sink", sink.Name(), "insight_id", ins.ID, "channel", channel)
		}
		metrics.NotificationsTotal.WithLabelValues(sink.Name(), status).Inc()

		rec := &store.NotificationRecord{
			InsightID:    ins.ID,
			Channel:      sink.Name(),
			Status:       status,
			DispatchedAt: time.Now(),
		}
		if err := d.log.LogNotification(ctx, rec); err != nil {
			d.logger.Error("Failed to log notification", "error", err)
		}
	}
}

// SendTest issues one synthetic notification to validate connectivity at
// startup. Failures only warn; startup proceeds.
func (d *Dispatcher) SendTest(ctx context.Context) {
	for _, sink := range d.sinks {
		err := sink.Send(ctx, ChannelInfo, "Cortex Sentinel",
			"Monitoring started. This is a test notification.")
		if err != nil {
			d.logger.Warn("Test notification failed", "sink", sink.Name(), "error", err)
		}
	}
}

// SendSummary delivers a free-form summary message on the info channel.
func (d *Dispatcher) SendSummary(ctx context.Context, title, message string) {
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, ChannelInfo, title, message); err != nil {
			d.logger.Warn("Summary notification failed", "sink", sink.Name(), "error", err)
		}
	}
}

func formatTitle(ins *store.InsightRecord, channel string) string {
	title := fmt.Sprintf("Sentinel: %s Alert", titleCase(ins.Category))
	if channel == ChannelInfo {
		title = fmt.Sprintf("Sentinel: %s (info)", titleCase(ins.Category))
	}
	return title
}

func formatMessage(ins *store.InsightRecord) string {
	var b strings.Builder
	b.WriteString(ins.Message)
	fmt.Fprintf(&b, "\n\nConfidence: %.0f%%", ins.Confidence*100)
	if len(ins.Entities) > 0 {
		fmt.Fprintf(&b, "\nEntities: %s", strings.Join(ins.Entities, ", "))
	}
	if ins.RecommendedAction != "" {
		fmt.Fprintf(&b, "\nSuggested: %s", ins.RecommendedAction)
	}
	fmt.Fprintf(&b, "\nTime: %s", ins.CreatedAt.Format(time.RFC3339))
	return b.String()
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
