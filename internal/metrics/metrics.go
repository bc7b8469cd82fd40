package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_analysis_cycles_total",
			Help: "Total number of analysis cycles by provider used",
		},
		[]string{"provider"},
	)

	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "sentinel_analysis_latency_seconds",
			Help: "Analysis call latency in seconds",
		},
	)

	InsightsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_insights_total",
			Help: "Insight filter outcomes",
		},
		[]string{"outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_total",
			Help: "Notification delivery attempts by sink and status",
		},
		[]string{"sink", "status"},
	)

	DailyCost = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_daily_cost_usd",
			Help: "Accumulated API cost for the current UTC day",
		},
	)

	BufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_buffer_size",
			Help: "Number of state changes waiting in the buffer",
		},
	)

	ChangesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_changes_ingested_total",
			Help: "Total number of state changes accepted into the buffer",
		},
	)
)
