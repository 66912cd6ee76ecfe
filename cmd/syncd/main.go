package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offsync/internal/codec"
	"offsync/internal/config"
	"offsync/internal/database"
	"offsync/internal/domain"
	"offsync/internal/events"
	"offsync/internal/logging"
	"offsync/internal/metrics"
	"offsync/internal/models"
	"offsync/internal/queue"
	"offsync/internal/repository"
	"offsync/internal/storage"
	"offsync/internal/subscription"
	"offsync/internal/synchronization"
	"offsync/internal/synclog"
	"offsync/internal/upstream"
	"offsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const availabilityTTL = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	queueStore, redisClient, err := initQueueStore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	queues, err := initQueues(cfg, queueStore, logger)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	local := repository.NewNotifyingRepository(database.NewResourceStore(db), bus, logging.Component(logger, "repository"))
	syncLog := synclog.New(database.NewSyncLogStore(db), cfg.Synchronization.QueryStaleness, logging.Component(logger, "synclog"))

	resolver, err := initSubscriptions(cfg, local, logger)
	if err != nil {
		return err
	}

	client := upstream.NewClient(cfg.Upstream, logging.Component(logger, "upstream"))
	availability := upstream.NewAvailability(cfg.Upstream.BaseURL, availabilityTTL, logging.Component(logger, "availability"))
	monitor := upstream.NewMonitor(availability, bus, cfg.Synchronization.NetworkCheckInterval, logging.Component(logger, "network"))

	pool := worker.NewPool(4, models.WorkerQueueSize, logging.Component(logger, "pool"))
	pool.Start(ctx)
	defer pool.Stop()
	scheduler := worker.NewScheduler(pool, logging.Component(logger, "scheduler"))
	defer scheduler.Stop()

	svc, err := synchronization.New(cfg.Synchronization, synchronization.Dependencies{
		Queues:        queues,
		Upstream:      client,
		Availability:  availability,
		Repository:    local.Unwrap(),
		SyncLog:       syncLog,
		Subscriptions: resolver,
		Bus:           bus,
		Pool:          pool,
		Scheduler:     scheduler,
		Logger:        logging.Component(logger, "synchronization"),
	})
	if err != nil {
		logger.Error().Err(err).Msg("create synchronization service")
		return err
	}

	startMetrics(ctx, cfg, logger)
	go monitor.Run(ctx)
	go database.NewSnapshotService(db, cfg.Backup, logging.Component(logger, "snapshot")).Run(ctx)

	if err := svc.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("start synchronization")
		return err
	}
	logger.Info().
		Str("queue_backend", cfg.Queue.Backend).
		Str("upstream", cfg.Upstream.BaseURL).
		Dur("poll_interval", cfg.Synchronization.PollInterval).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "syncd"), closer, nil
}

func initQueueStore(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) (domain.QueueStore, *redis.Client, error) {
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			_ = client.Close()
			logger.Error().Err(err).Str("addr", cfg.Redis.Address).Msg("redis connection failed")
			return nil, nil, err
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		return repository.NewRedisQueueStore(client, cfg.Redis.KeyPrefix), client, nil
	case config.BackendMemory:
		logger.Warn().Msg("queues are kept in memory and will not survive a restart")
		return repository.NewMemoryQueueStore(), nil, nil
	default:
		return database.NewQueueStore(db), nil, nil
	}
}

func initQueues(cfg *config.Config, store domain.QueueStore, logger *zerolog.Logger) (*queue.Manager, error) {
	c, err := codec.New(cfg.Queue.Codec)
	if err != nil {
		return nil, err
	}
	blobs, err := storage.NewFileBlobStore(cfg.Queue.BlobDir)
	if err != nil {
		logger.Error().Err(err).Str("blob_dir", cfg.Queue.BlobDir).Msg("init blob store")
		return nil, err
	}
	return queue.NewDefaultManager(queue.Options{
		Store:           store,
		Codec:           c,
		Blobs:           blobs,
		InlineThreshold: cfg.Queue.InlineThreshold,
		Logger:          logging.Component(logger, "queue"),
	}), nil
}

func initSubscriptions(cfg *config.Config, repo domain.LocalRepository, logger *zerolog.Logger) (*subscription.Resolver, error) {
	source := subscription.NewSource()
	if cfg.SubscriptionsPath != "" {
		loaded, err := subscription.LoadFile(cfg.SubscriptionsPath)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.SubscriptionsPath).Msg("load subscriptions")
			return nil, err
		}
		source = loaded
	}
	return subscription.NewResolver(source, repo, subscription.Options{
		SubscribedType: cfg.Synchronization.SubscribedObjectType,
		SubscribedKeys: cfg.Synchronization.SubscribedObjects,
		Variables:      cfg.Synchronization.Variables,
		Logger:         logging.Component(logger, "subscriptions"),
	}), nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
