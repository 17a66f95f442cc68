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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apexboard/prioritizer/internal/api"
	"github.com/apexboard/prioritizer/internal/config"
	"github.com/apexboard/prioritizer/internal/events"
	"github.com/apexboard/prioritizer/internal/monitor"
	"github.com/apexboard/prioritizer/internal/orchestrator"
	"github.com/apexboard/prioritizer/internal/scheduler"
	"github.com/apexboard/prioritizer/internal/scoring"
	"github.com/apexboard/prioritizer/internal/semantic"
	"github.com/apexboard/prioritizer/internal/store"
	"github.com/apexboard/prioritizer/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Event bus (optional)
	var bus events.Client
	if cfg.Events.URL != "" {
		nc, err := events.NewNATSClient(ctx, cfg.Events.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to event bus, running without events", "error", err)
		} else {
			bus = nc
			defer nc.Close()
			logger.Info("connected to event bus")
		}
	}

	// Semantic analysis: AI runtime behind a fallback policy.
	var runtime semantic.Analyzer
	if cfg.Analysis.RuntimeURL != "" {
		runtime = semantic.NewRuntimeAnalyzer(cfg.Analysis.RuntimeURL, cfg.AnalysisTimeout())
	}
	policy := semantic.NewPolicy(runtime, semantic.NewFallbackAnalyzer(), semantic.PolicyOptions{
		Enabled:   cfg.Analysis.Enabled,
		Timeout:   cfg.AnalysisTimeout(),
		CacheSize: cfg.Analysis.CacheSize,
		CacheTTL:  cfg.CacheTTL(),
	}, logger)

	engine := scoring.NewEngine(policy, logger)
	batch := workflow.NewBatchProcessor(cfg.Engine.BatchSize, cfg.Engine.MaxConcurrency, logger)
	queue := scheduler.NewQueue(cfg.Scheduler.QueueCapacity)

	// Monitoring
	registry := prometheus.NewRegistry()
	mon := monitor.New(db, registry, monitor.Options{
		Retention:      cfg.MetricRetention(),
		CompactionTick: cfg.CompactionTick(),
	}, logger)
	mon.AddRule(monitor.AlertRule{
		Name:      "workflow-failures",
		Metric:    "items.failed",
		Aggregate: "count",
		Op:        monitor.OpGreaterThan,
		Threshold: 100,
		Severity:  "critical",
		Window:    15 * time.Minute,
	})
	var webhook *events.WebhookNotifier
	if cfg.Monitor.AlertWebhookURL != "" {
		webhook = events.NewWebhookNotifier(cfg.Monitor.AlertWebhookURL, 5*time.Second, logger)
	}
	mon.Notify(func(a monitor.Alert) {
		if webhook != nil {
			_ = webhook.Send(ctx, a)
		}
		if bus != nil {
			_ = bus.Publish(events.SubjectAlertFired(a.Rule), events.AlertEvent{
				Rule: a.Rule, Severity: a.Severity, Metric: a.Metric,
				Value: a.Value, Threshold: a.Threshold, FiredAt: a.FiredAt,
			})
		}
	})
	mon.Start(ctx)
	defer mon.Stop(context.Background())

	// Orchestrator and scheduler
	orch := orchestrator.New(db, engine, batch, queue, scheduler.NewHostMonitor(), mon, bus, orchestrator.Options{
		MaxConcurrentWorkflows: cfg.Engine.MaxConcurrentWorkflows,
		DispatchTick:           cfg.DispatchTick(),
		WriteBackRetries:       cfg.Engine.WriteBackMaxAttempts,
		RetryBackoff:           cfg.WriteBackBackoff(),
		WorkflowRetention:      time.Duration(cfg.Engine.RetentionDays) * 24 * time.Hour,
		Thresholds: scheduler.Thresholds{
			CPUPercent:    cfg.Scheduler.MaxCPUPercent,
			MemoryPercent: cfg.Scheduler.MaxMemoryPercent,
		},
	}, logger)

	sched := scheduler.New(db, orch.FireScheduledJob, scheduler.Options{
		MaxFailures:  cfg.Scheduler.MaxRetries,
		RetryBackoff: cfg.RetryBackoff(),
	}, logger)
	sched.OnDeadLetter(func(dl scheduler.DeadLetter) {
		if bus != nil {
			_ = bus.Publish(events.SubjectJobDeadLetter(dl.JobID.String()), dl)
		}
	})
	orch.AttachScheduler(sched)

	if err := sched.Restore(ctx); err != nil {
		logger.Warn("scheduled job restore failed", "error", err)
	}
	sched.Start(ctx)
	defer sched.Stop()
	orch.Start(ctx)
	defer orch.Stop()
	logger.Info("orchestrator started",
		"max_workflows", cfg.Engine.MaxConcurrentWorkflows,
		"dispatch_tick", cfg.DispatchTick())

	// API server
	router := api.NewRouter(db, orch, sched, engine, mon, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(registry),
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
