package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/avoronin/peek/backend/internal/config"
	"github.com/avoronin/peek/backend/internal/infra/events"
	"github.com/avoronin/peek/backend/internal/infra/logger"
	s3infra "github.com/avoronin/peek/backend/internal/infra/s3"
	"github.com/avoronin/peek/backend/internal/jobs/sweep"
	pgrepo "github.com/avoronin/peek/backend/internal/repo/postgres"
	expirysvc "github.com/avoronin/peek/backend/internal/services/expiry"
	itemssvc "github.com/avoronin/peek/backend/internal/services/items"
)

func main() {
	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env, cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	s3Client, err := s3infra.NewClient(ctx, s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		log.Warn("s3 init failed, purged content objects will be left behind", zap.Error(err))
	}

	var sink sweep.EventSink
	if publisher, err := events.NewPublisher(events.Config{
		URL:        cfg.AMQP.URL,
		Exchange:   cfg.AMQP.Exchange,
		RoutingKey: cfg.AMQP.RoutingKey,
		Queue:      cfg.AMQP.Queue,
	}, log); err != nil {
		log.Warn("amqp init failed, continuing without event publishing", zap.Error(err))
	} else {
		sink = publisher
		defer func() {
			_ = publisher.Close()
		}()
	}

	itemRepo := pgrepo.NewItemRepo(pool)
	expiryService := expirysvc.NewService(itemRepo, expirysvc.Config{
		DirectTTLCeiling: cfg.Items.DirectTTLCeiling,
		SweepBatchLimit:  cfg.Sweep.BatchLimit,
	})
	contentStorage := itemssvc.NewS3ContentStorage(s3Client, cfg.S3.Bucket)

	job := sweep.New(expiryService, contentStorage, sink, cfg.Sweep.Interval, log)

	log.Info("sweeper started", zap.Duration("interval", cfg.Sweep.Interval))
	if err := job.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("sweeper failed", zap.Error(err))
	}
}
