package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"faceattend/internal/api"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/faceclient"
	"faceattend/internal/feed"
	"faceattend/internal/notify"
	"faceattend/internal/observability"
	"faceattend/internal/photos"
	"faceattend/internal/queue"
	"faceattend/internal/store"
	"faceattend/internal/ws"
)

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

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api server failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	repo, err := store.Open(ctx, cfg.StoreBackend, storeDSN(cfg), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = repo.Close() }()

	photoStore, err := photos.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open photo store: %w", err)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceDim)
	if err := face.Init(ctx); err != nil {
		// the service retries Init on every extraction
		logger.Warn("face service not available", zap.String("url", cfg.FaceServiceURL), zap.Error(err))
	}
	defer func() { _ = face.Close() }()

	health := map[string]api.HealthCheck{
		"face": face.Health,
	}
	if sqlRepo, ok := repo.(*store.SQLRepository); ok {
		health["store"] = sqlRepo.DB().PingContext
	}

	var rdb *store.Redis
	if sharedFeed(cfg) {
		rdb, err = store.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		health["redis"] = func(ctx context.Context) error {
			if !rdb.Healthy(ctx) {
				return errors.New("redis ping failed")
			}
			return nil
		}
	}

	q, closeQueue, err := openQueue(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	events, consumeHere := buildFeed(cfg, rdb)
	if consumeHere {
		go func() {
			if err := feed.Consume(ctx, q, events, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("feed consumer stopped", zap.Error(err))
			}
		}()
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	svc := attendance.NewService(repo, face, attendance.Options{
		Threshold: cfg.MatchThreshold,
		Location:  loc,
		Photos:    photoStore,
		Notifier:  notify.Multi{notify.NewQueue(q), hub},
	}, logger)

	var issuer *auth.Issuer
	if cfg.AuthEnabled() {
		issuer = auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	} else {
		logger.Warn("operator auth disabled, set OPERATOR_PASSCODE to enable it")
	}

	router := api.NewRouter(api.Deps{
		Service:         svc,
		Feed:            events,
		Hub:             hub,
		Issuer:          issuer,
		Passcode:        cfg.OperatorPasscode,
		Health:          health,
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxUploadBytes:  cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend),
			zap.String("photos", cfg.PhotoBackend),
			zap.Float64("threshold", cfg.MatchThreshold),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func storeDSN(cfg config.App) string {
	if cfg.StoreBackend == store.BackendPostgres {
		return cfg.DatabaseURL
	}
	return cfg.SQLitePath
}

func openQueue(ctx context.Context, cfg config.App, rdb *store.Redis, logger *zap.Logger) (queue.Queue, func(), error) {
	switch cfg.QueueBackend {
	case "redis":
		return queue.NewRedisQueue(rdb.Client, cfg.QueueKey), func() {}, nil
	case "nats":
		nq, err := queue.NewNATSQueue(ctx, cfg.NATSURL, "", logger)
		if err != nil {
			return nil, nil, err
		}
		return nq, nq.Close, nil
	default:
		return queue.NewInMemory(64), func() {}, nil
	}
}
