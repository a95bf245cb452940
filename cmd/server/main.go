// Package main provides the API server entry point for the portfolio analyzer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/api"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/app"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/config"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/job"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/service"
)

func main() {
	fmt.Println("Portfolio Analyzer API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to databases")
	}
	defer stores.Close()

	pipeline, err := app.NewPipeline(ctx, cfg, stores, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize resolution pipeline")
	}

	// Resolution queue and periodic sweep
	queue := job.NewQueue(pipeline.Orchestrator, cfg.Resolution.QueueSize)
	if err := queue.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start resolution queue")
	}

	sweeper, err := job.NewSweeper(cfg.Resolution.SweepSchedule, queue, pipeline.Holdings, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid resolution sweep schedule")
	}
	sweeper.Start()

	// pick up snapshots left unresolved by a previous process
	if added, err := sweeper.RunNow(ctx); err != nil {
		logger.WithError(err).Warn("Startup sweep failed")
	} else if added > 0 {
		logger.WithField("queued", added).Info("Queued unresolved snapshots from previous run")
	}

	// Initialize services
	logger.Info("Initializing services...")

	uploadService := service.NewUploadService(service.UploadConfig{
		Registry:        pipeline.Registry,
		Repo:            pipeline.Snapshots,
		Settings:        pipeline.Settings,
		Queue:           queue,
		MaxSize:         cfg.Upload.MaxSize,
		KnownBrokers:    cfg.Upload.SupportedBrokers,
		ClassifyTimeout: cfg.Upload.ClassifyTimeout,
	})

	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadSize:   cfg.Upload.MaxSize,
		RequestsPerSec:  cfg.RateLimit.RequestsPerSecond,
		Burst:           cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, api.Services{
		Uploads:   uploadService,
		Portfolio: service.NewPortfolioService(pipeline.Aggregator),
		Risk:      service.NewRiskService(pipeline.Aggregator),
		History:   pipeline.History,
		Settings:  service.NewSettingsService(pipeline.Settings),
		Accounts:  pipeline.Accounts,
		Snapshots: pipeline.Snapshots,
		Status:    pipeline.Tracker,
		Queue:     queue,
		Sweeper:   sweeper,
	}, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// stop the sweep first so nothing is queued behind the cancelled run
	sweeper.Stop()
	cancel()
	if err := queue.Stop(); err != nil {
		logger.WithError(err).Warn("Resolution queue did not stop cleanly")
	}

	logger.Info("Server exited")
}
