package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/sheetdrop/internal/config"
	"github.com/JonMunkholm/sheetdrop/internal/ingest"
	"github.com/JonMunkholm/sheetdrop/internal/logging"
	"github.com/JonMunkholm/sheetdrop/internal/store"
	"github.com/JonMunkholm/sheetdrop/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"database", cfg.Mongo.Database,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"upload_max_file_size", cfg.Upload.MaxFileSize,
	)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
	mongo, err := store.Connect(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	cancelConnect()
	if err != nil {
		slog.Error("failed to connect to document store", "error", err)
		os.Exit(1)
	}
	defer mongo.Close(context.Background())

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
	err = mongo.EnsureIndexes(indexCtx)
	cancelIndex()
	if err != nil {
		slog.Error("failed to ensure indexes", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to document store", "database", cfg.Mongo.Database)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ingest.NewMetrics(registry)

	pipeline := ingest.NewPipeline(ingest.ExcelDecoder{}, mongo, mongo, metrics)
	limiter := ingest.NewLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)

	server := web.NewServer(cfg, pipeline, limiter, mongo, registry)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight ingestions reach a terminal state before the
		// server stops accepting their responses.
		if active := limiter.Active(); active > 0 {
			slog.Info("waiting for ingestions to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("ingestions did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
