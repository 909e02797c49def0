package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/app/cachekey"
	"github.com/mrops-br/catalog-media-api/internal/app/ingest"
	"github.com/mrops-br/catalog-media-api/internal/app/media"
	"github.com/mrops-br/catalog-media-api/internal/app/service"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/artifact"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/cache"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/config"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/http"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/http/handler"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/queue"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/repository/memory"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/repository/postgres"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/telemetry"
	"github.com/mrops-br/catalog-media-api/pkg/retry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "catalog-media-api"

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var telem *telemetry.Telemetry
	if cfg.OTLP.Enabled {
		telem, err = telemetry.NewTelemetry(ctx, cfg)
	} else {
		telem, err = telemetry.NewNoOpTelemetry(ctx, cfg)
	}
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	err = run(ctx, cfg, telem)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := telem.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("Error shutting down telemetry: %v", shutdownErr)
	}

	if err != nil {
		telem.Logger.Error("Catalog stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// components holds the backends shared by the api and worker roles
type components struct {
	repo     domain.ProductRepository
	users    domain.UserRepository
	cache    domain.Cache
	store    domain.ArtifactStore
	queue    domain.MediaQueue
	consumer domain.JobConsumer
	closers  []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func run(ctx context.Context, cfg *config.Config, telem *telemetry.Telemetry) error {
	tracer := telem.TracerProvider.Tracer(instrumentationName)
	meter := telem.MeterProvider.Meter(instrumentationName)
	logger := telem.Logger

	logger.Info("Starting Catalog Media API", slog.String("role", cfg.Role))

	c := &components{}
	defer c.close()

	if err := c.openRepositories(ctx, cfg, tracer, logger); err != nil {
		return err
	}
	if err := c.openCache(ctx, cfg, tracer, logger); err != nil {
		return err
	}
	if err := c.openArtifacts(ctx, cfg, tracer, logger); err != nil {
		return err
	}
	if err := c.openQueue(ctx, cfg, tracer, logger); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Role != config.RoleWorker {
		startAPI(ctx, g, cfg, c, telem, tracer, meter, logger)
	}
	if cfg.Role != config.RoleAPI {
		startWorker(ctx, g, cfg, c, tracer, meter, logger)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Catalog Media API stopped")
	return nil
}

func startAPI(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	c *components,
	telem *telemetry.Telemetry,
	tracer trace.Tracer,
	meter metric.Meter,
	logger *slog.Logger,
) {
	productService := service.NewProductService(c.repo, c.users, c.cache, c.queue,
		service.Options{
			TTLs: cachekey.TTLs{
				List:   cfg.Cache.ListTTL,
				Show:   cfg.Cache.ShowTTL,
				Record: cfg.Cache.RecordTTL,
			},
			AssetBaseURL: cfg.Artifacts.PublicBaseURL,
		},
		tracer, meter, logger,
	)

	server := http.NewServer(
		&cfg.Server,
		handler.NewProductHandler(productService, logger),
		handler.NewStorageHandler(c.store, logger),
		logger,
		telem,
	)

	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func startWorker(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	c *components,
	tracer trace.Tracer,
	meter metric.Meter,
	logger *slog.Logger,
) {
	worker := ingest.NewWorker(
		media.NewNormalizer(c.store, tracer),
		c.repo,
		c.cache,
		retry.Config{
			MaxAttempts: cfg.Worker.MaxAttempts,
			Backoff:     retry.ExponentialBackoff(cfg.Worker.Backoff, cfg.Worker.MaxBackoff),
		},
		tracer, meter, logger,
	)

	runner := ingest.NewRunner(c.consumer, worker.Handle, cfg.Worker.ProcessTimeout, logger)
	g.Go(func() error {
		return runner.Run(ctx)
	})
}

func (c *components) openRepositories(ctx context.Context, cfg *config.Config, tracer trace.Tracer, logger *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		logger.Warn("No database configured, products are kept in memory")
		users := memory.NewUserRepository(tracer, logger)
		c.repo = memory.NewProductRepository(users, tracer, logger)
		c.users = users
		return nil
	}

	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(cfg.Postgres.URL, logger); err != nil {
			return err
		}
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, pool.Close)

	users := postgres.NewUserRepository(pool, tracer, logger)
	c.repo = postgres.NewProductRepository(pool, users, tracer, logger)
	c.users = users

	logger.Info("Connected to PostgreSQL", slog.Int("max_conns", int(cfg.Postgres.MaxConns)))
	return nil
}

func (c *components) openCache(ctx context.Context, cfg *config.Config, tracer trace.Tracer, logger *slog.Logger) error {
	if cfg.Redis.Addr == "" {
		logger.Warn("No Redis configured, using a process-local cache")
		c.cache = cache.NewMemoryCache()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisCache := cache.NewRedisCache(client, cfg.Redis.Prefix, tracer, logger)
	c.closers = append(c.closers, func() { _ = redisCache.Close() })

	// An unreachable cache degrades to misses, so this only warns
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("Redis is not reachable yet",
			slog.String("addr", cfg.Redis.Addr),
			slog.String("error", err.Error()),
		)
	}

	c.cache = redisCache
	return nil
}

func (c *components) openArtifacts(ctx context.Context, cfg *config.Config, tracer trace.Tracer, logger *slog.Logger) error {
	switch cfg.Artifacts.Driver {
	case config.ArtifactsNATS:
		store, err := artifact.NewObjectStore(ctx, cfg.Artifacts.NATSURL, cfg.Artifacts.Bucket, tracer, logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, store.Close)
		c.store = store
	default:
		store, err := artifact.NewFilesystemStore(cfg.Artifacts.Root, tracer, logger)
		if err != nil {
			return err
		}
		c.store = store
	}
	return nil
}

func (c *components) openQueue(ctx context.Context, cfg *config.Config, tracer trace.Tracer, logger *slog.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("No Kafka brokers configured, ingestion runs in-process")
		mq := queue.NewMemoryQueue(cfg.Worker.Buffer, cfg.Worker.Concurrency, logger)
		c.closers = append(c.closers, mq.Close)
		c.queue, c.consumer = mq, mq
		return nil
	}

	kcfg := queue.KafkaConfig{
		SeedBrokers:       cfg.Kafka.Brokers,
		Topic:             cfg.Kafka.Topic,
		ConsumerGroup:     cfg.Kafka.ConsumerGroup,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		MaxMessageBytes:   cfg.Kafka.MaxMessageBytes,
		Concurrency:       cfg.Worker.Concurrency,
	}

	if err := queue.EnsureTopic(ctx, kcfg, logger); err != nil {
		return err
	}

	if cfg.Role != config.RoleWorker {
		producer, err := queue.NewKafkaProducer(kcfg, tracer, logger)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		c.closers = append(c.closers, producer.Close)
		c.queue = producer
	}

	if cfg.Role != config.RoleAPI {
		consumer, err := queue.NewKafkaConsumer(kcfg, tracer, logger)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		c.closers = append(c.closers, consumer.Close)
		c.consumer = consumer
	}

	return nil
}
