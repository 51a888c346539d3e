package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hoopmetrics/achievements-worker/internal/artifact"
	"github.com/hoopmetrics/achievements-worker/internal/awards"
	"github.com/hoopmetrics/achievements-worker/internal/counters"
	"github.com/hoopmetrics/achievements-worker/internal/guard"
	"github.com/hoopmetrics/achievements-worker/internal/pipeline"
	"github.com/hoopmetrics/achievements-worker/internal/queue"
	"github.com/hoopmetrics/achievements-worker/internal/rules"
	"github.com/hoopmetrics/achievements-worker/internal/worker"
	"github.com/hoopmetrics/achievements-worker/pkg/config"
	"github.com/hoopmetrics/achievements-worker/pkg/db"
	"github.com/hoopmetrics/achievements-worker/pkg/idempotency"
	"github.com/hoopmetrics/achievements-worker/pkg/instance"
	"github.com/hoopmetrics/achievements-worker/pkg/logger"
	"github.com/hoopmetrics/achievements-worker/pkg/metrics"
	"github.com/hoopmetrics/achievements-worker/pkg/migrate"
	"github.com/hoopmetrics/achievements-worker/pkg/redis"
	"github.com/hoopmetrics/achievements-worker/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "achievements-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "achievements-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap gcs client", err)
		os.Exit(1)
	}

	idempotencyManager, err := idempotency.NewManager(redisClient, cfg.Worker.LeaseTTL)
	if err != nil {
		logg.Error(ctx, "failed to build idempotency manager", err)
		os.Exit(1)
	}
	counterGuard := guard.New(idempotencyManager)

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	counterStore := counters.New(dbClient.DB())
	ruleRegistry := rules.New(dbClient.DB(), redisClient, cfg.Worker.RuleCacheTTL)
	ruleRegistry.SetMetrics(pipelineMetrics)
	awardLedger := awards.New(dbClient.DB(), cfg.Worker.Issuer, 1)
	awardLedger.SetMetrics(pipelineMetrics)
	badgeRenderer := artifact.New(gcsClient.BucketHandle(""), cfg.GCS.PublicBaseURL)
	queueDriver := queue.New(dbClient.DB(), cfg.Worker.MaxAttempts, cfg.Worker.LeaseTTL)

	eventPipeline := pipeline.New(counterStore, ruleRegistry, awardLedger, badgeRenderer, counterGuard, logg)

	supervisor := worker.New(worker.Params{
		DB:           dbClient.DB(),
		Queue:        queueDriver,
		Pipeline:     eventPipeline,
		Logger:       logg,
		Metrics:      pipelineMetrics,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: durationFromMillis(cfg.Worker.PollIntervalMS),
	})

	logg.Info(ctx, "starting achievements worker")
	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func durationFromMillis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
