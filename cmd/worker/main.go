// Package main runs the background job worker (report CSV export to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/queue-status/backend/config"
	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/internal/reports"
	"github.com/queue-status/backend/internal/store"
	"github.com/queue-status/backend/internal/worker"
	"github.com/queue-status/backend/pkg/database"
	"github.com/queue-status/backend/pkg/queue"
	"github.com/queue-status/backend/pkg/redis"
	"github.com/queue-status/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.AWS.ExportBucket == "" {
		logger.Fatal("REPORT_EXPORT_BUCKET is required for the export worker")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ExportBucket:         cfg.AWS.ExportBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	// The worker only reads documents; writes and the change feed stay with the server.
	docs := store.New(pool, nil, logger)
	validator := reconcile.NewValidator(
		reconcile.CompletionRule(cfg.Report.CompletionModes),
		reconcile.EventModeRule(cfg.Report.EventModes),
	)
	loader := reports.NewLoader(docs, validator, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewExportProcessor(jobQueue, loader, reports.NewExportStatuses(rdb.Client), s3Client, reports.NewExportAudit(pool), logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(stopped)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-stopped:
	case <-time.After(worker.DequeueTimeout + 2*time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
