package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/avoronin/peek/backend/internal/config"
	"github.com/avoronin/peek/backend/internal/infra/events"
	s3infra "github.com/avoronin/peek/backend/internal/infra/s3"
	"github.com/avoronin/peek/backend/internal/jobs/sweep"
	pgrepo "github.com/avoronin/peek/backend/internal/repo/postgres"
	redrepo "github.com/avoronin/peek/backend/internal/repo/redis"
	capturessvc "github.com/avoronin/peek/backend/internal/services/captures"
	expirysvc "github.com/avoronin/peek/backend/internal/services/expiry"
	feedsvc "github.com/avoronin/peek/backend/internal/services/feed"
	identitysvc "github.com/avoronin/peek/backend/internal/services/identity"
	itemssvc "github.com/avoronin/peek/backend/internal/services/items"
	ratesvc "github.com/avoronin/peek/backend/internal/services/rate"
	viewssvc "github.com/avoronin/peek/backend/internal/services/views"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	s3         *minio.Client
	publisher  *events.Publisher
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	rateRepo := redrepo.NewRateRepo(redisClient)
	itemRepo := pgrepo.NewItemRepo(pool)
	viewRepo := pgrepo.NewViewRepo(pool)
	captureRepo := pgrepo.NewCaptureRepo(pool)

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(ctx, s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
	}

	var publisher *events.Publisher
	if p, err := events.NewPublisher(events.Config{
		URL:        cfg.AMQP.URL,
		Exchange:   cfg.AMQP.Exchange,
		RoutingKey: cfg.AMQP.RoutingKey,
		Queue:      cfg.AMQP.Queue,
	}, log); err != nil {
		log.Warn("amqp init failed, continuing without event publishing", zap.Error(err))
	} else {
		publisher = p
	}

	contentStorage := itemssvc.NewS3ContentStorage(s3Client, cfg.S3.Bucket)
	tokenManager := identitysvc.NewTokenManager(cfg.Auth.TokenSecret, 0)
	rateLimiter := ratesvc.NewLimiter(rateRepo, map[string]ratesvc.Limits{
		"create": {PerMinute: cfg.Limits.CreatePerMinute, Per10Sec: cfg.Limits.CreatePer10Sec},
		"view":   {PerMinute: cfg.Limits.ViewPerMinute, Per10Sec: cfg.Limits.ViewPer10Sec},
	}, log)

	expiryService := expirysvc.NewService(itemRepo, expirysvc.Config{
		DirectTTLCeiling: cfg.Items.DirectTTLCeiling,
		SweepBatchLimit:  cfg.Sweep.BatchLimit,
	})
	itemService := itemssvc.NewService(itemssvc.Dependencies{
		Store:   itemRepo,
		Storage: contentStorage,
		Sink:    eventSink(publisher),
		Limiter: rateLimiter,
		Logger:  log,
	}, itemssvc.Config{
		ViewingDurationMinSec:   cfg.Items.ViewingDurationMinSec,
		ViewingDurationMaxSec:   cfg.Items.ViewingDurationMaxSec,
		DirectDefaultMaxReplays: cfg.Items.DirectDefaultMaxReplays,
		BroadcastTTL:            cfg.Items.BroadcastTTL,
	})
	viewService := viewssvc.NewService(itemRepo, viewRepo, expiryService)
	viewService.AttachLimiter(rateLimiter)
	captureService := capturessvc.NewService(capturessvc.Dependencies{
		Store:  captureRepo,
		Items:  itemRepo,
		Sink:   eventSink(publisher),
		Logger: log,
	}, capturessvc.Config{})
	feedService := feedsvc.NewService(feedsvc.Dependencies{
		Items:    itemRepo,
		Views:    viewRepo,
		Expiry:   expiryService,
		Resolver: contentStorage,
		Logger:   log,
	}, feedsvc.Config{
		ContentURLTTL: cfg.Items.PreviewURLTTL,
	})
	sweepJob := sweep.New(expiryService, contentStorage, eventSink(publisher), cfg.Sweep.Interval, log)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		ItemService:    itemService,
		ViewService:    viewService,
		CaptureService: captureService,
		FeedService:    feedService,
		TokenManager:   tokenManager,
		ContentStorage: contentStorage,
		SweepRunner:    sweepJob,
		PreviewURLTTL:  cfg.Items.PreviewURLTTL,
		Logger:         log,
		Config:         cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		s3:         s3Client,
		publisher:  publisher,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

// eventSink keeps a typed nil publisher from leaking into non-nil
// interface values in the services.
func eventSink(p *events.Publisher) itemssvc.EventSink {
	if p == nil {
		return nil
	}
	return p
}
