package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"faceattend/internal/config"
	"faceattend/internal/feed"
	"faceattend/internal/observability"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// Worker consumes published events and keeps the shared recent-activity
// feed in redis up to date.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := store.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		q = queue.NewRedisQueue(rdb.Client, cfg.QueueKey)
	case "nats":
		nq, err := queue.NewNATSQueue(ctx, cfg.NATSURL, "faceattend-feed", logger)
		if err != nil {
			return err
		}
		defer nq.Close()
		q = nq
	default:
		return errors.New("worker needs QUEUE_BACKEND redis or nats; the memory queue is consumed inside the api process")
	}

	logger.Info("worker started",
		zap.String("queue", cfg.QueueBackend),
		zap.Int("feed_size", cfg.FeedSize),
	)
	err = feed.Consume(ctx, q, feed.NewRedis(rdb.Client, "", cfg.FeedSize), logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
