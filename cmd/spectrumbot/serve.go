package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/spectrumbot/internal/api"
	"github.com/nugget/spectrumbot/internal/buildinfo"
	"github.com/nugget/spectrumbot/internal/connwatch"
	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/knowledge"
	"github.com/nugget/spectrumbot/internal/mqtt"
	"github.com/nugget/spectrumbot/internal/prompts"
	"github.com/nugget/spectrumbot/internal/scheduler"
	"github.com/nugget/spectrumbot/internal/telegram"
	"github.com/nugget/spectrumbot/internal/web"
)

// reindexJob is the scheduler name of the knowledge rebuild.
const reindexJob = "knowledge-reindex"

// runServe handles "spectrumbot serve". It wires every component,
// starts the API server and the optional bridges, and blocks until a
// shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The scheduler stops and MQTT publishes offline
//  3. The HTTP server drains in-flight requests
//  4. Databases are closed via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting SpectrumBot", buildinfo.LogAttr())
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"database", cfg.Database.Driver,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// --- Dependency health ---
	health := connwatch.NewMonitor(logger)
	defer health.Stop()
	onChange := func(name string, up bool, err error) {
		data := map[string]any{"service": name, "up": up}
		if err != nil {
			data["error"] = err.Error()
		}
		a.bus.Emit(events.SourceHealth, events.KindServiceHealth, data)
	}
	health.Watch(ctx, connwatch.Dependency{Name: "llm", Probe: a.llm.Ping, OnChange: onChange})
	health.Watch(ctx, connwatch.Dependency{Name: "database", Probe: a.db.PingContext, OnChange: onChange})

	// --- Knowledge maintenance ---
	sched := scheduler.New(logger, scheduler.NewStore(a.db))
	if a.ingester != nil {
		dir := cfg.Knowledge.Dir
		ingester := a.ingester
		if err := sched.Add(scheduler.Job{
			Name: reindexJob,
			Spec: cfg.Knowledge.ReindexSchedule,
			Run:  func(ctx context.Context) error { return ingester.Reindex(ctx, dir) },
		}); err != nil {
			return err
		}

		if cfg.Knowledge.Watch && dir != "" {
			w := knowledge.NewWatcher(dir, ingester, logger)
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Error("knowledge watcher stopped", "dir", dir, "error", err)
				}
			}()
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, j := range sched.Jobs() {
		logger.Info("job scheduled", "job", j.Name, "schedule", j.Schedule, "next", j.Next)
	}
	if a.ingester != nil {
		// Build the index now rather than waiting for the first tick.
		go func() {
			if _, err := sched.Trigger(ctx, reindexJob); err != nil {
				logger.Error("initial knowledge index failed", "error", err)
			}
		}()
	}

	// --- HTTP API and widget ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, logger)
	server.SetTurnTimeout(cfg.Agent.TurnTimeout)
	server.SetHealth(health)
	server.SetOrders(a.orders)
	server.SetProducts(a.products)
	server.SetFAQ(a.faqAdmin())
	server.SetHandoff(a.handoff)
	server.SetWidget(web.NewWidget(web.Config{
		BrandName: cfg.Shop.Name,
		Greeting:  prompts.Greeting(cfg.Shop.Name),
		Handoff:   a.handoff.Configured(),
		Logger:    logger,
	}))

	// --- Telegram ---
	if cfg.Telegram.Enabled {
		bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.PollTimeout, logger)
		if err != nil {
			return err
		}
		logger.Info("telegram bot connected", "username", bot.Self.UserName)

		bridge := telegram.NewBridge(telegram.BridgeConfig{
			Bot:         bot,
			Runner:      a.loop,
			Logger:      logger,
			Bus:         a.bus,
			RateLimit:   cfg.Telegram.RateLimitPerMinute,
			PollTimeout: cfg.Telegram.PollTimeout,
		})
		go bridge.Start(ctx)
	} else {
		logger.Info("telegram bridge disabled")
	}

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPub = mqtt.New(cfg.MQTT, a.bus, mqtt.NewDailyStats(nil), logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "base_topic", cfg.MQTT.BaseTopic)
	} else {
		logger.Info("mqtt publishing disabled")
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()

		sched.Stop(stopCtx)
		if mqttPub != nil {
			if err := mqttPub.Stop(stopCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Agent.TurnTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	startErr := server.Start(ctx)
	serverFailed := ctx.Err() == nil
	cancel()
	<-shutdownDone

	if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) && serverFailed {
		return fmt.Errorf("server failed: %w", startErr)
	}

	logger.Info("SpectrumBot stopped")
	return nil
}
