package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	httpapi "github.com/shestoi/paygate/internal/api/http"
	"github.com/shestoi/paygate/internal/config"
	eventkafka "github.com/shestoi/paygate/internal/event/kafka"
	"github.com/shestoi/paygate/internal/metrics"
	"github.com/shestoi/paygate/internal/provider"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/internal/repository/memory"
	mongorepo "github.com/shestoi/paygate/internal/repository/mongo"
	"github.com/shestoi/paygate/internal/repository/postgres"
	redisrepo "github.com/shestoi/paygate/internal/repository/redis"
	"github.com/shestoi/paygate/internal/service"
	"github.com/shestoi/paygate/migrations"
	platformhealth "github.com/shestoi/paygate/platform/health/http"
	platformkafka "github.com/shestoi/paygate/platform/kafka"
	platformlogging "github.com/shestoi/paygate/platform/logging"
	platformobservability "github.com/shestoi/paygate/platform/observability"
	platformshutdown "github.com/shestoi/paygate/platform/shutdown"
)

// App содержит все зависимости для запуска и корректного shutdown платёжного сервиса
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	workers     []worker
	workersCtx  context.Context
	workersWG   *sync.WaitGroup
}

type worker struct {
	name  string
	start func(ctx context.Context) error
}

// Build создаёт и настраивает все зависимости сервиса
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "paygate",
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	cfg.Log(logger)

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	// при ошибке сборки освобождаем уже созданное
	ok := false
	defer func() {
		if !ok {
			_ = shutdownMgr.Shutdown()
		}
	}()

	otelShutdown, err := platformobservability.Init(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	shutdownMgr.Add("otel", otelShutdown)

	m := metrics.New()
	checks := make([]platformhealth.Check, 0, 3)

	// Заказы и транзакции
	var repo repository.Repository
	switch cfg.Storage {
	case config.StoragePostgres:
		if cfg.AutoMigrate {
			logger.Info("Applying migrations")
			if err := migrations.Up(ctx, cfg.PostgresDSN); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.Info("Connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("PostgreSQL connection established")
		repo = postgres.NewRepository(pool)
		checks = append(checks, platformhealth.Check{Name: "postgres", Fn: pool.Ping})
	default:
		logger.Warn("Using in-memory storage, data is lost on restart")
		repo = memory.NewMemoryRepository()
	}

	// Обработанные webhook события
	var processed service.ProcessedEventsStore
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		shutdownMgr.Add("redis", platformshutdown.CloseCloser(client))
		store := redisrepo.NewProcessedEventsStore(client, logger)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		processed = store
		checks = append(checks, platformhealth.Check{Name: "redis", Fn: store.Ping})
	} else {
		processed = memory.NewProcessedEventsStore()
	}

	// Архив webhook событий
	var archive service.WebhookArchive
	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		shutdownMgr.Add("mongo", platformshutdown.DisconnectMongo(client))
		mongoArchive := mongorepo.NewWebhookArchive(client, cfg.MongoDatabase)
		if err := mongoArchive.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		archive = mongoArchive
		checks = append(checks, platformhealth.Check{Name: "mongo", Fn: mongoArchive.Ping})
	}

	// Kafka
	codec, err := eventkafka.NewJobCodecFromBase64(cfg.PaymentJobKey)
	if err != nil {
		return nil, err
	}
	jobsWriter := platformkafka.NewWriter(cfg.Kafka, cfg.Kafka.JobsTopic)
	shutdownMgr.Add("kafka_jobs_writer", platformshutdown.CloseCloser(jobsWriter))
	dlqWriter := platformkafka.NewWriter(cfg.Kafka, cfg.Kafka.DLQTopic)
	shutdownMgr.Add("kafka_dlq_writer", platformshutdown.CloseCloser(dlqWriter))
	eventsWriter := platformkafka.NewWriter(cfg.Kafka, "")
	shutdownMgr.Add("kafka_events_writer", platformshutdown.CloseCloser(eventsWriter))
	jobsReader := platformkafka.NewReader(cfg.Kafka, cfg.Kafka.JobsGroupID, cfg.Kafka.JobsTopic)
	shutdownMgr.Add("kafka_jobs_reader", platformshutdown.CloseCloser(jobsReader))

	jobPublisher := eventkafka.NewPaymentJobPublisher(logger, jobsWriter, codec)
	dlq := eventkafka.NewDLQPublisher(logger, dlqWriter)

	// Сервисный слой
	gateway := provider.NewClient(cfg.Provider, logger, m)
	payments := service.NewPaymentService(repo, gateway, jobPublisher, m, logger, service.PaymentConfig{
		EventsTopic: cfg.Kafka.EventsTopic,
	})
	reconciler := service.NewReconciler(repo, gateway, processed, archive, m, logger, service.ReconcilerConfig{
		EventsTopic:  cfg.Kafka.EventsTopic,
		ProcessedTTL: cfg.ProcessedTTL,
	})
	orders := service.NewOrderService(repo, reconciler, logger)

	consumer := eventkafka.NewPaymentJobConsumer(logger, jobsReader, codec, payments, dlq, m, eventkafka.ConsumerConfig{
		MaxAttempts: cfg.JobMaxAttempts,
		Backoff:     cfg.JobBackoff,
	})
	dispatcher := eventkafka.NewOutboxDispatcher(logger, repo, eventsWriter, m, eventkafka.OutboxConfig{
		BatchSize: cfg.OutboxBatchSize,
		Interval:  cfg.OutboxInterval,
	})

	// Воркеры останавливаются после HTTP сервера, но до закрытия kafka и хранилищ
	workersCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	workersWG := &sync.WaitGroup{}
	shutdownMgr.Add("workers", platformshutdown.StopWorkers(cancelWorkers, workersWG))

	// HTTP
	handler := httpapi.NewHandler(orders, payments, reconciler, logger)
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		JWTSecret:          []byte(cfg.JWTSecret),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            m.Handler(),
		HealthChecks:       checks,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	ok = true
	return &App{
		logger:      logger,
		httpServer:  httpServer,
		shutdownMgr: shutdownMgr,
		workersCtx:  workersCtx,
		workersWG:   workersWG,
		workers: []worker{
			{name: "payment_job_consumer", start: consumer.Start},
			{name: "outbox_dispatcher", start: dispatcher.Start},
		},
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала, отмены ctx или падения HTTP сервера
func (a *App) Run(ctx context.Context) error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting paygate", zap.String("addr", a.httpServer.Addr))

	for _, w := range a.workers {
		a.workersWG.Add(1)
		go func(w worker) {
			defer a.workersWG.Done()
			if err := w.start(a.workersCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("Worker stopped with error", zap.String("worker", w.name), zap.Error(err))
			}
		}(w)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	err := a.shutdownMgr.Wait(runCtx)
	select {
	case e := <-serveErr:
		err = errors.Join(e, err)
	default:
	}
	a.logger.Info("paygate stopped")
	return err
}
