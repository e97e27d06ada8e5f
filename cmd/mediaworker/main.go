package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"feedline.org/internal/config"
	"feedline.org/internal/media"
	"feedline.org/internal/obs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	obs.Init()

	if cfg.RedisURL == "" {
		logger.Fatal("FEEDLINE_REDIS_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := media.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer client.Close()

	disk, err := media.NewDiskCleaner(cfg.MediaRoot)
	if err != nil {
		logger.Fatal("media root", zap.Error(err))
	}

	logger.Info("media worker started", zap.String("queue", media.QueueKey), zap.String("root", cfg.MediaRoot))
	if err := media.NewWorker(client, disk, logger.Named("media")).Run(ctx); err != nil {
		logger.Error("media worker stopped", zap.Error(err))
		return
	}
	logger.Info("media worker stopped")
}
