// Package main runs the queue status HTTP server with live WebSocket reports and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/queue-status/backend/config"
	"github.com/queue-status/backend/internal/auth"
	"github.com/queue-status/backend/internal/ingest"
	"github.com/queue-status/backend/internal/live"
	"github.com/queue-status/backend/internal/middleware"
	"github.com/queue-status/backend/internal/realtime"
	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/internal/reports"
	"github.com/queue-status/backend/internal/store"
	"github.com/queue-status/backend/internal/worker"
	"github.com/queue-status/backend/pkg/cronrunner"
	"github.com/queue-status/backend/pkg/database"
	"github.com/queue-status/backend/pkg/queue"
	"github.com/queue-status/backend/pkg/redis"
	"github.com/queue-status/backend/pkg/response"
	"github.com/queue-status/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.ExportBucket != "" {
		s3Client, err = storage.NewS3(ctx, s3Config(cfg), logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// Record store and change feed
	feed := store.NewChangeFeed(rdb.Client, logger)
	docs := store.New(pool, feed, logger)
	validator := newValidator(cfg)

	// Reports and exports
	loader := reports.NewLoader(docs, validator, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	statuses := reports.NewExportStatuses(rdb.Client)
	audit := reports.NewExportAudit(pool)
	exports := reports.Exports{Statuses: statuses, Audit: audit}
	var processor *worker.ExportProcessor
	if s3Client != nil {
		exports.Queue = jobQueue
		exports.Presigner = s3Client
		processor = worker.NewExportProcessor(jobQueue, loader, statuses, s3Client, audit, logger)
	}
	reportHandler := reports.NewHandler(loader, exports, cfg.Report.PageSize, logger)

	// Live sessions
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	registry := live.NewRegistry(logger)
	hub := realtime.NewHub(registry, logger)
	wsServer := realtime.NewServer(hub, docs, loader, validator, jwtService, cfg.Report.PageSize, middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins), logger)

	ingestHandler := ingest.NewHandler(docs, cfg.Ingest.WebhookSecret, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health"))

	// Health
	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(hctx); err != nil || !rdb.Healthy(hctx) {
			response.ServiceUnavailable(c, "unhealthy")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Public report surface
	router.GET("/queues", reportHandler.ListQueues)
	router.GET("/queue-report/:queueId", reportHandler.QueueReport)

	// Upstream document mirror (shared secret)
	hooks := router.Group("/webhooks/documents", ingestHandler.RequireSecret())
	{
		hooks.PUT("/:collection/:id", ingestHandler.Put)
		hooks.DELETE("/:collection/:id", ingestHandler.Delete)
		hooks.POST("/:collection", ingestHandler.Batch)
	}

	// Operator API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/queues/:id/dashboard", reportHandler.Dashboard)
		api.GET("/queues/:id/report.csv", reportHandler.DownloadCSV)
		api.POST("/queues/:id/exports", middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator), reportHandler.CreateExport)
		api.GET("/queues/:id/exports", reportHandler.ListExports)
		api.GET("/exports/:id", reportHandler.GetExport)
		api.GET("/live/stats", middleware.RequireRole(auth.RoleAdmin), func(c *gin.Context) {
			response.OK(c, hub.Stats())
		})
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", wsServer.ServeWs)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Periodic jobs: live resync covers missed change notifications
	runner := cronrunner.New(logger, bgCtx)
	if cfg.Report.ResyncSpec != "" {
		_, err := runner.Add("live-resync", cfg.Report.ResyncSpec, 30*time.Second, func(ctx context.Context) {
			if failed := registry.ResyncAll(ctx); failed > 0 {
				logger.Warn("live resync incomplete", zap.Int("failed", failed), zap.Int("drivers", registry.Len()))
			}
		})
		if err != nil {
			logger.Fatal("schedule resync", zap.Error(err))
		}
	}
	if _, err := runner.Add("export-backlog", "@every 5m", 10*time.Second, func(ctx context.Context) {
		if n, err := jobQueue.Pending(ctx); err == nil && n > 0 {
			logger.Info("export backlog", zap.Int64("pending", n))
		}
	}); err != nil {
		logger.Fatal("schedule backlog check", zap.Error(err))
	}
	runner.Start()

	// Background worker (report export to S3)
	if processor != nil {
		go processor.Run(bgCtx)
		logger.Info("export worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	runner.Stop()
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	hub.CloseAll()
	logger.Info("server stopped")
}

func newValidator(cfg *config.Config) *reconcile.Validator {
	return reconcile.NewValidator(
		reconcile.CompletionRule(cfg.Report.CompletionModes),
		reconcile.EventModeRule(cfg.Report.EventModes),
	)
}

func s3Config(cfg *config.Config) storage.S3Config {
	return storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ExportBucket:         cfg.AWS.ExportBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
