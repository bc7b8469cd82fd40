// Cortex Sentinel - AI-powered home state monitoring for Home Assistant
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cortexhub/cortex-sentinel/internal/analyzer"
	"github.com/cortexhub/cortex-sentinel/internal/buffer"
	"github.com/cortexhub/cortex-sentinel/internal/bus"
	"github.com/cortexhub/cortex-sentinel/internal/config"
	"github.com/cortexhub/cortex-sentinel/internal/event"
	"github.com/cortexhub/cortex-sentinel/internal/insight"
	"github.com/cortexhub/cortex-sentinel/internal/ledger"
	"github.com/cortexhub/cortex-sentinel/internal/logging"
	"github.com/cortexhub/cortex-sentinel/internal/monitor"
	"github.com/cortexhub/cortex-sentinel/internal/notify"
	"github.com/cortexhub/cortex-sentinel/internal/notify/discord"
	"github.com/cortexhub/cortex-sentinel/internal/notify/hass"
	"github.com/cortexhub/cortex-sentinel/internal/notify/telegram"
	"github.com/cortexhub/cortex-sentinel/internal/server"
	"github.com/cortexhub/cortex-sentinel/internal/source"
	"github.com/cortexhub/cortex-sentinel/internal/store"
)

var version = "1.0.0"

const retentionDays = 30

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Cortex Sentinel v%s\n", version)
		os.Exit(0)
	}

	logger := logging.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting Cortex Sentinel", "version", version,
		"mode", cfg.Analysis.Mode, "scope", cfg.Monitor.MonitoringScope)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Sentinel failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	if err := st.Prune(ctx, cutoff); err != nil {
		logger.Warn("Failed to prune old records", "error", err)
	}

	led := ledger.New(st, cfg.Analysis.MaxDailyAPICalls, cfg.Analysis.CostLimitDaily,
		logging.WithComponent("ledger"))
	scope := event.Scope(cfg.Monitor.MonitoringScope)

	haClient := source.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token,
		scope, logging.WithComponent("source"))
	if err := haClient.Health(ctx); err != nil {
		logger.Warn("Home Assistant unreachable at startup, continuing", "error", err)
	} else if entities, err := haClient.ScopedEntities(ctx); err == nil {
		logger.Info("Baseline established", "scoped_entities", len(entities))
	}

	var remote, local analyzer.Client
	if cfg.Analysis.Remote.APIKey != "" {
		c, err := analyzer.NewOpenAIClient(cfg.Analysis.Remote.BaseURL,
			cfg.Analysis.Remote.APIKey, cfg.Analysis.Model,
			cfg.Analysis.MaxOutputTokens, cfg.Analysis.GetRequestTimeout())
		if err != nil {
			return fmt.Errorf("failed to create remote client: %w", err)
		}
		remote = c
	}
	if cfg.Analysis.Local.Enabled {
		c, err := analyzer.NewOllamaClient(cfg.Analysis.Local.URL,
			cfg.Analysis.Local.Model, cfg.Analysis.GetRequestTimeout())
		if err != nil {
			return fmt.Errorf("failed to create local client: %w", err)
		}
		local = c
	}
	anlz := analyzer.New(cfg.Analysis, remote, local, led, logging.WithComponent("analyzer"))

	filt := insight.New(st, cfg.Analysis.InsightThreshold, scope,
		cfg.Notifications.GetSuppressionWindow(), cfg.Notifications.NotifyOnAnyInsight,
		logging.WithComponent("insight"))

	sinks := []notify.Sink{
		hass.New(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, cfg.Notifications.Service),
	}
	if cfg.Notifications.Discord.Enabled {
		sink, err := discord.New(cfg.Notifications.Discord.Token, cfg.Notifications.Discord.ChannelID)
		if err != nil {
			logger.Warn("Discord sink disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.Notifications.Telegram.Enabled {
		sink, err := telegram.New(cfg.Notifications.Telegram.Token, cfg.Notifications.Telegram.ChatID)
		if err != nil {
			logger.Warn("Telegram sink disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	dispatcher := notify.NewDispatcher(sinks, st, logging.WithComponent("notify"))
	if cfg.Notifications.TestOnStart {
		dispatcher.SendTest(ctx)
	}

	var publisher monitor.Publisher
	if cfg.Bus.Enabled {
		pub, err := bus.New(cfg.Bus.RedisAddr, "", 0, cfg.Bus.Stream, logging.WithComponent("bus"))
		if err != nil {
			logger.Warn("Insight bus disabled", "error", err)
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	buf := buffer.New(cfg.Monitor.ChangeBufferSize, scope)
	mon := monitor.New(haClient, buf, anlz, filt, dispatcher, publisher, scope,
		cfg.Monitor.GetCheckInterval(), cfg.Monitor.GetAnalysisInterval(),
		logging.WithComponent("monitor"))

	var events chan event.StateChange
	if cfg.HomeAssistant.UseWebsocket {
		stream, err := source.NewStream(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token,
			scope, logging.WithComponent("source"))
		if err != nil {
			return fmt.Errorf("failed to create event stream: %w", err)
		}
		events = make(chan event.StateChange, cfg.Monitor.ChangeBufferSize)
		go stream.Run(ctx, events)
	}

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Host, cfg.Server.Port, st, led, haClient, buf,
			logging.WithComponent("server"))
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("Status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Summary.Enabled {
		c := cron.New()
		_, err := c.AddFunc(cfg.Summary.Cron, func() {
			sendDailySummary(ctx, st, led, dispatcher)
		})
		if err != nil {
			logger.Warn("Invalid summary cron expression", "cron", cfg.Summary.Cron, "error", err)
		} else {
			c.Start()
			defer c.Stop()
		}
	}

	mon.Run(ctx, events)
	return nil
}

// sendDailySummary pushes yesterday-to-now activity and spend to the
// informational channel.
func sendDailySummary(ctx context.Context, st *store.Store, led *ledger.Ledger, d *notify.Dispatcher) {
	stats, err := st.Stats(ctx, time.Now().UTC())
	if err != nil {
		return
	}
	day := led.Snapshot()

	message := fmt.Sprintf(
		"Insights in the last 24h: %d\nTotal insights on record: %d\nAPI calls today: %d\nSpend today: $%.4f",
		stats.Recent24h, stats.Total, day.CallsMade, day.Cost)
	d.SendSummary(ctx, "Sentinel Daily Summary", message)
}
