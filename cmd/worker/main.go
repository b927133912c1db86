package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"facerecog/internal/archive"
	"facerecog/internal/audit"
	"facerecog/internal/config"
	"facerecog/internal/logging"
	"facerecog/internal/queue"
	"facerecog/internal/retention"
	"facerecog/internal/roster"
	"facerecog/internal/store"
)

// Worker records verification attempts from the queue and sweeps expired
// probe images.
func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg config.App, logger *zap.Logger) error {
	uploadDir, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	sweeper := retention.NewSweeper(uploadDir, cfg.RetentionMaxAge, logger)
	if sweeper.Enabled() {
		logger.Info("retention sweeper started", zap.Duration("max_age", cfg.RetentionMaxAge), zap.Duration("interval", cfg.SweepInterval))
	} else {
		logger.Info("retention disabled, probes are kept")
	}
	g.Go(func() error {
		sweeper.Run(gctx, cfg.SweepInterval)
		return nil
	})

	if cfg.QueueBackend != "redis" {
		logger.Info("no event queue configured, attempt log disabled")
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
		return g.Wait()
	}

	attempts, closeStore, err := roster.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck
	if err := attempts.Migrate(ctx); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close() //nolint:errcheck
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	var archiver audit.Archiver
	if cfg.CloudinaryEnabled() {
		archiver = archive.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("probe archival enabled", zap.String("cloud", cfg.CloudinaryCloudName))
	}

	logger.Info("worker started, waiting for events", zap.String("queue", cfg.QueueKey))
	recorder := audit.NewRecorder(attempts, archiver, logger)
	g.Go(func() error {
		return recorder.Run(gctx, q)
	})
	return g.Wait()
}
