package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/stitchflow/internal/config"
	"github.com/example/stitchflow/internal/observability"
	"github.com/example/stitchflow/internal/service"
	"github.com/example/stitchflow/internal/storage/sqlite"
	"github.com/example/stitchflow/internal/template"
	"github.com/example/stitchflow/internal/web"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()

	// Debug server for pprof and metrics.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info("starting debug server", "addr", cfg.DebugAddr)
		if err := http.ListenAndServe(cfg.DebugAddr, mux); err != nil {
			logger.Error("debug server error", "error", err)
		}
	}()

	logger.Info("initializing storage", "dsn", cfg.DatabaseDSN)
	store, err := sqlite.New(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("failed to create storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	catalog, err := template.LoadDir(cfg.TemplateDir)
	if err != nil {
		logger.Error("failed to load templates", "dir", cfg.TemplateDir, "error", err)
		os.Exit(1)
	}
	logger.Info("templates loaded", "dir", cfg.TemplateDir, "templates", len(catalog.List()))

	notifier := &service.LogNotifier{Logger: logger}
	workflowSvc := service.NewWorkflowService(store, catalog, notifier, metrics, logger)
	matcherSvc := service.NewMatcherService(store, notifier, metrics, logger)
	progressSvc := service.NewProgressService(store, metrics)
	bundleSvc := service.NewBundleService(store, notifier, metrics, logger)
	rosterSvc := service.NewRosterService(store, logger)

	server := web.NewServer(cfg.HTTPAddr, web.Services{
		Workflow: workflowSvc,
		Matcher:  matcherSvc,
		Progress: progressSvc,
		Bundles:  bundleSvc,
		Roster:   rosterSvc,

		PerRollDefault: cfg.PerRollDefault,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "addr", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
