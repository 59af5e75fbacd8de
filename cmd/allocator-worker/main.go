package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"envelopes/internal/amqp"
	"envelopes/internal/config"
	applog "envelopes/internal/log"
	"envelopes/internal/services"
	"envelopes/internal/storage"
	"envelopes/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: "worker"})
	applog.SetDefault(logger)

	logger.Info("Starting allocator-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	allocator := services.NewAllocator(repo, services.AmountMatcher{}, cfg.MatchThreshold,
		services.WithPublisher(amqpClient),
		services.WithConcurrency(cfg.BatchConcurrency))
	allocWorker := worker.NewAllocatorWorker(allocator, repo, cfg.SweepBatchSize, cfg.SweepMinAge)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On startup, process any transactions that might have been missed
	logger.Info("Performing startup sweep...")
	if err := allocWorker.StartupSweep(ctx); err != nil {
		logger.Error("Failed startup sweep", "error", err)
		// Don't exit - continue with normal operation
	}

	// Start message consumption
	go func() {
		handler := func(msg *amqp.TransactionCreatedMessage) error {
			return allocWorker.HandleTransactionMessage(ctx, msg)
		}
		if err := amqpClient.ConsumeTransactionCreated(ctx, handler); err != nil {
			if err != context.Canceled {
				logger.Error("Message consumption failed", "error", err)
			}
			cancel()
		}
	}()

	// Periodic sweep for any missed messages
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		if err := allocWorker.SweepPending(ctx); err != nil {
			logger.Error("Periodic sweep failed", "error", err)
		}
	}); err != nil {
		logger.Error("Invalid sweep schedule", "error", err, "schedule", cfg.SweepSchedule)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	logger.Info("Shutting down worker...")
	cancel()

	cronCtx := scheduler.Stop()
	select {
	case <-cronCtx.Done():
		logger.Info("Worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
