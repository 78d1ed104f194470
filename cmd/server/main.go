package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iconidentify/vidyodl/internal/api"
	"github.com/iconidentify/vidyodl/internal/api/handler"
	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/downloader"
	"github.com/iconidentify/vidyodl/internal/observability/logging"
	"github.com/iconidentify/vidyodl/internal/observability/metrics"
	"github.com/iconidentify/vidyodl/internal/pipeline"
	"github.com/iconidentify/vidyodl/internal/proxy"
	"github.com/iconidentify/vidyodl/internal/repository"
	"github.com/iconidentify/vidyodl/internal/resolver"
	"github.com/iconidentify/vidyodl/internal/service"
	"github.com/iconidentify/vidyodl/internal/storage"
	"github.com/iconidentify/vidyodl/internal/worker"
	"github.com/iconidentify/vidyodl/pkg/ffmpeg"
	"github.com/iconidentify/vidyodl/pkg/piped"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vidyodl %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting vidyodl",
		"version", Version,
		"build_time", BuildTime,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()

	// Storage
	layout := storage.NewLayout(cfg.Storage)
	if err := layout.EnsureDirs(); err != nil {
		return fmt.Errorf("create download directories: %w", err)
	}

	// Job store
	jobRepo, err := repository.Open(ctx, cfg.Jobs)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobRepo.Close()

	// Relay pool
	client := piped.NewClient(cfg.Proxy)
	pool := proxy.NewPool(client, logging.WithComponent(logger, "proxy"), rec)
	selector := proxy.NewSelector(pool, cfg.Proxy.DefaultURL, logging.WithComponent(logger, "proxy"), rec)
	refresher := proxy.NewRefresher(pool, cfg.Proxy, logging.WithComponent(logger, "proxy"))
	refresher.Start()
	defer refresher.Stop()

	res := resolver.New(client, cfg.Proxy, logging.WithComponent(logger, "resolver"))

	// Fetch and mux
	proc, err := ffmpeg.NewProcessor(cfg.Fetch.FFmpegPath)
	if err != nil {
		return fmt.Errorf("init ffmpeg: %w", err)
	}
	if v, err := proc.Version(ctx); err == nil {
		logger.Info("ffmpeg found", "version", v)
	}

	dlLogger := logging.WithComponent(logger, "downloader")
	var fetcher downloader.Fetcher
	switch cfg.Fetch.Backend {
	case "http":
		fetcher = downloader.NewHTTPFetcher(cfg.Fetch, dlLogger)
	default:
		fetcher = downloader.NewFFmpegFetcher(proc, cfg.Fetch, dlLogger)
	}
	muxer := downloader.NewFFmpegMuxer(proc, dlLogger)

	orch := pipeline.New(
		pipeline.Config{RetryDelay: cfg.Worker.RetryDelay},
		selector,
		res,
		fetcher,
		muxer,
		layout,
		logging.WithComponent(logger, "pipeline"),
		rec,
	)

	downloadSvc := service.NewDownloadService(
		jobRepo,
		orch,
		selector,
		res,
		cfg.Worker,
		logging.WithComponent(logger, "service"),
	)

	// Initialize worker pool
	workers := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		downloadSvc,
		logging.WithComponent(logger, "worker"),
	)
	workers.Start()

	// Setup router
	router := api.NewRouter(api.Handlers{
		Health:   handler.NewHealthHandler(downloadSvc, pool, layout),
		Proxy:    handler.NewProxyHandler(pool, refresher, selector.Default(), logger),
		Download: handler.NewDownloadHandler(downloadSvc, logger),
		Metrics:  rec.Handler(),
	}, cfg.Server.APIKey, cfg.Server.WriteTimeout, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			workers.Stop(5 * time.Second)
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop workers; in-flight jobs are cancelled
	if err := workers.Stop(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	return nil
}
