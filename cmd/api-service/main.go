package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lrstanley/go-ytdlp"

	"github.com/nmkhang/grabber-be/internal/api/handler"
	"github.com/nmkhang/grabber-be/internal/api/router"
	"github.com/nmkhang/grabber-be/internal/config"
	"github.com/nmkhang/grabber-be/internal/media"
	"github.com/nmkhang/grabber-be/internal/registry"
	"github.com/nmkhang/grabber-be/internal/stream"
	"github.com/nmkhang/grabber-be/internal/worker"
	"github.com/nmkhang/grabber-be/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("GRABBER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})

	appLogger.Info("Starting media grabber API",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Resolve and prepare the download directory
	downloadDir := cfg.Storage.DownloadDir
	if downloadDir == "" {
		downloadDir = media.DefaultDownloadDir()
	}
	if err := media.EnsureDir(downloadDir); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	appLogger.Info("Download directory ready",
		slog.String("dir", downloadDir),
	)

	// Make sure a yt-dlp binary is available
	if cfg.Fetch.AutoInstall {
		if _, err := ytdlp.Install(context.Background(), nil); err != nil {
			return fmt.Errorf("failed to install yt-dlp: %w", err)
		}
		appLogger.Info("yt-dlp binary ready")
	}

	// Background context for the sweeper
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the job orchestration core
	jobRegistry := registry.New(appLogger.Logger)
	hub := stream.NewHub(cfg.Jobs.ChannelBuffer, appLogger.Logger)
	fetcher := media.NewFetcher(downloadDir, appLogger.Logger)
	transformer := media.NewTransformer(appLogger.Logger)

	jobWorker := worker.New(&worker.Config{
		Logger:      appLogger.Logger,
		Registry:    jobRegistry,
		Hub:         hub,
		Fetcher:     fetcher,
		Transformer: transformer,
		OutputDir:   downloadDir,
	})

	go jobRegistry.RunSweeper(ctx, cfg.Jobs.SweepInterval, cfg.Jobs.Retention)

	// Initialize router
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:            appLogger.Logger,
		Registry:          jobRegistry,
		Hub:               hub,
		Prober:            fetcher,
		Launcher:          jobWorker,
		StreamIdleTimeout: cfg.Jobs.StreamIdleTimeout,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Media grabber API is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
