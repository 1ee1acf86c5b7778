package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clockin/internal/audit"
	"clockin/internal/checkin"
	"clockin/internal/config"
	"clockin/internal/portal"
	"clockin/internal/queue"
	"clockin/internal/session"
	"clockin/internal/store"
)

// resultTTL bounds how long a finished async batch stays fetchable.
const resultTTL = time.Hour

// Worker consumes queued check-in batches, runs them through the engine, and
// caches the outcome list under the job id.
func main() {
	cfg := config.Load()

	var logger *zap.Logger
	if cfg.Env == "production" || cfg.Env == "prod" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	var repo *audit.Repository
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Warn("db not reachable, audit trail disabled", zap.Error(err))
	} else {
		repo = audit.NewRepository(db.Client)
		defer db.Close()
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "clockin:batches")
	}

	portalClient := portal.New(portal.Config{
		BaseURL:     cfg.PortalBaseURL,
		LoginPath:   cfg.PortalLoginPath,
		RecordPath:  cfg.PortalRecordPath,
		Timeout:     cfg.PortalTimeout,
		InsecureTLS: cfg.PortalInsecure,
	}, logger)
	registry := session.NewRegistry(cfg.SessionTTL)
	engine := checkin.NewEngine(portalClient, registry, checkin.Options{
		PoolSize:    cfg.WorkerPoolSize,
		Tolerance:   cfg.VerifyTolerance,
		ProbeDelays: cfg.ProbeDelays,
	}, logger)

	jobs, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started, waiting for batches")
	for job := range jobs {
		if len(job.Users) == 0 {
			continue
		}
		logger.Info("processing batch",
			zap.String("job", job.ID),
			zap.Int("users", len(job.Users)),
			zap.Bool("token", job.Token != ""))

		outcomes := engine.RunBatch(ctx, job.Users, job.Token)

		if err := redisClient.SaveResult(ctx, job.ID, outcomes, resultTTL); err != nil {
			logger.Error("result cache write failed", zap.String("job", job.ID), zap.Error(err))
		}
		kind := "checkin"
		if job.Token == "" {
			kind = "login"
		}
		if _, err := repo.RecordBatch(ctx, kind, job.Token != "", outcomes); err != nil {
			logger.Warn("audit write failed", zap.String("job", job.ID), zap.Error(err))
		}
		logger.Info("batch finished", zap.String("job", job.ID))
	}

	logger.Info("worker stopped")
}
