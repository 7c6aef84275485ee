package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osbits/winfleet/internal/api"
	"github.com/osbits/winfleet/internal/config"
	"github.com/osbits/winfleet/internal/observability"
	"github.com/osbits/winfleet/internal/probe"
	"github.com/osbits/winfleet/internal/report"
	"github.com/osbits/winfleet/internal/runner"
	"github.com/osbits/winfleet/internal/scanauth"
	"github.com/osbits/winfleet/internal/storage"
	"github.com/osbits/winfleet/internal/winrm"
)

func main() {
	var configPath string
	defaultConfig := os.Getenv("WINFLEET_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yml"
	}
	flag.StringVar(&configPath, "config", defaultConfig, "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rollbarEnabled, rollbarCleanup := observability.SetupRollbar(cfg.Service.Name, logger)
	defer rollbarCleanup()
	defer observability.CapturePanic(logger, rollbarEnabled)()

	secrets, err := cfg.ResolveSecrets()
	if err != nil {
		logger.Error("failed to resolve secrets", "error", err)
		os.Exit(1)
	}

	dbPath := cfg.Storage.Path
	if envPath := os.Getenv("WINFLEET_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	store, err := storage.Open(dbPath, storage.Options{
		ResultRetention: cfg.Storage.ResultRetention,
		AuditRetention:  cfg.Storage.AuditRetention,
	})
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
	}()

	adminPass := ""
	if cfg.WinRM.AdminPassRef != "" {
		pass, ok := secrets[cfg.WinRM.AdminPassRef]
		if !ok {
			logger.Error("missing secret for admin password", "ref", cfg.WinRM.AdminPassRef)
			os.Exit(1)
		}
		adminPass = pass
	}

	resolver := scanauth.NewResolver(store, scanauth.Defaults{
		Username: cfg.WinRM.AdminUser,
		Password: adminPass,
	}, logger)

	channel := winrm.NewSidecar(winrm.Options{
		Command:       cfg.WinRM.Command,
		Args:          cfg.WinRM.Args,
		Timeout:       cfg.WinRM.Timeout.Duration,
		SkipTLSVerify: cfg.WinRM.SkipTLSVerify,
	}, resolver, logger)

	// The channel is single attempt; the setting is accepted for config
	// compatibility only.
	if cfg.WinRM.MaxRetries > 1 {
		logger.Info("winrm.max_retries is not consulted, execution is single attempt", "configured", cfg.WinRM.MaxRetries)
	}

	pipeline := probe.New(store, channel, logger)

	var reporter runner.ReportSender
	if cfg.Report.Enabled {
		rep, err := report.New(store, cfg.Report, secrets, logger)
		if err != nil {
			logger.Error("failed to initialize report", "error", err)
			os.Exit(1)
		}
		reporter = rep
	}

	run := runner.New(cfg.Runner, cfg.Jobs, store, pipeline, reporter, cfg.Report.Schedule, logger)

	app, err := api.New(store, pipeline, resolver, logger)
	if err != nil {
		logger.Error("failed to initialize api", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := run.Start(ctx); err != nil {
		logger.Error("failed to start runner", "error", err)
		os.Exit(1)
	}
	defer run.Stop()

	server := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           app.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api listening", "addr", cfg.API.Listen, "service", cfg.Service.Name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			log.Println("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
