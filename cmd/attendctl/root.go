package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/faceclient"
	"faceattend/internal/observability"
	"faceattend/internal/photos"
	"faceattend/internal/store"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "attendctl",
	Short: "Operator tool for the face attendance service",
	Long: `attendctl works directly on the attendance store: it applies schema
migrations, lists and removes students, marks attendance by hand and exports
daily reports. It reads the same configuration as the api server.`,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

func initConfig() {
	// .env file is optional
	_ = godotenv.Load()
}

// app holds what a command needs to reach the store.
type app struct {
	cfg    config.App
	logger *zap.Logger
	repo   attendance.Repository
	svc    *attendance.Service
}

func (a *app) Close() {
	_ = a.repo.Close()
	_ = a.logger.Sync()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := observability.NewLogger(level, "console")
	if err != nil {
		return nil, err
	}
	if cfg.StoreBackend == store.BackendMemory {
		return nil, fmt.Errorf("attendctl needs a persistent store, STORE_BACKEND is %q", cfg.StoreBackend)
	}

	dsn := cfg.SQLitePath
	if cfg.StoreBackend == store.BackendPostgres {
		dsn = cfg.DatabaseURL
	}
	repo, err := store.Open(ctx, cfg.StoreBackend, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	photoStore, err := photos.Open(ctx, cfg)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("open photo store: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	svc := attendance.NewService(repo,
		faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceDim),
		attendance.Options{
			Threshold: cfg.MatchThreshold,
			Location:  loc,
			Photos:    photoStore,
		}, logger)
	return &app{cfg: cfg, logger: logger, repo: repo, svc: svc}, nil
}
