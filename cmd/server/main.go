package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/agent-mesh/agent-mesh/pkg/common/cache"
	"github.com/agent-mesh/agent-mesh/pkg/common/clock"
	"github.com/agent-mesh/agent-mesh/pkg/common/config"
	"github.com/agent-mesh/agent-mesh/pkg/events"
	"github.com/agent-mesh/agent-mesh/pkg/migrations"
	"github.com/agent-mesh/agent-mesh/pkg/observability"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
	"github.com/agent-mesh/agent-mesh/pkg/repository/memory"
	"github.com/agent-mesh/agent-mesh/pkg/repository/postgres"
	"github.com/agent-mesh/agent-mesh/pkg/services"
	"github.com/agent-mesh/agent-mesh/pkg/sinks"

	// Import PostgreSQL driver
	_ "github.com/lib/pq"
)

func main() {
	// .env is optional; containers set their environment directly.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := buildLogger(cfg.Observability.Logging)
	observability.DefaultLogger = logger

	if err := observability.Initialize(cfg.Observability); err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	defer func() {
		if err := observability.Shutdown(); err != nil {
			log.Printf("Observability shutdown error: %v", err)
		}
	}()

	metricsClient := observability.DefaultMetricsClient
	if !cfg.Observability.Metrics.Enabled {
		metricsClient = observability.NewNoOpMetricsClient()
	}
	tracer := observability.DefaultStartSpan

	// Relational store. The memory driver keeps everything in process and
	// exists for development and tests.
	var store repository.Store
	switch cfg.Database.Driver {
	case "memory":
		store = memory.NewStore()
	case "postgres":
		db, err := sqlx.Connect("postgres", cfg.Database.BuildDSN())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		defer db.Close()

		if err := applySchema(ctx, db, logger); err != nil {
			log.Fatalf("Failed to apply database schema: %v", err)
		}
		store = postgres.NewStore(db, db, logger, tracer)
	default:
		log.Fatalf("Unknown database driver: %q", cfg.Database.Driver)
	}

	// Context read cache.
	var contextCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		contextCache, err = cache.NewRedisCache(cfg.Cache.Redis)
		if err != nil {
			log.Fatalf("Failed to initialize Redis cache: %v", err)
		}
	case "none":
		contextCache = cache.NewNoOpCache()
	default:
		contextCache = cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	}
	defer contextCache.Close()

	// Domain event publisher. The Redis publisher shares the cache's
	// connection settings but owns its own client.
	var publisher events.Publisher
	switch cfg.Events.Type {
	case "redis":
		redisClient, err := cache.NewRedisClient(cfg.Cache.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis for events: %v", err)
		}
		defer redisClient.Close()
		publisher = events.NewRedisPublisher(redisClient, cfg.Events.ChannelPrefix, logger)
	case "none":
		publisher = &events.NoOpPublisher{}
	default:
		publisher = events.NewBus(logger)
	}
	defer publisher.Close()

	// Archival sink and the worker draining into it.
	var archiveSink sinks.ArchivalSink
	switch cfg.Archive.Type {
	case "s3":
		archiveSink, err = sinks.NewS3Archiver(ctx, cfg.Archive.S3, logger)
		if err != nil {
			log.Fatalf("Failed to initialize S3 archiver: %v", err)
		}
	default:
		archiveSink = sinks.NewNoopArchivalSink()
	}
	defer archiveSink.Close()

	archiver := services.NewArchivalWorker(archiveSink, services.ArchiverConfig{}, logger, metricsClient)
	defer archiver.Stop()

	// Subscriber notification fan-out.
	notifySink := sinks.NewChannelNotificationSink(cfg.Notifications.PerSubscriberBurst)
	dispatcher := services.NewNotificationDispatcher(notifySink, services.DispatcherConfig{
		QueueSize:          cfg.Notifications.QueueSize,
		PerSubscriberRate:  cfg.Notifications.PerSubscriberRate,
		PerSubscriberBurst: cfg.Notifications.PerSubscriberBurst,
	}, logger, metricsClient)
	defer dispatcher.Stop()

	svcCfg := services.ServiceConfig{
		Logger:  logger,
		Metrics: metricsClient,
		Tracer:  tracer,
		Clock:   clock.Real(),
	}

	agentService := services.NewAgentService(svcCfg, store.Agents(), store.Capabilities())
	contextEngine := services.NewContextEngine(svcCfg, services.ContextEngineConfig{
		CompressionThreshold:  cfg.Context.CompressionThreshold,
		ArchiveEveryNVersions: cfg.Context.ArchiveEveryNVersions,
		MaxSizeBytes:          cfg.Context.MaxSizeBytes,
		CacheTTL:              cfg.Cache.TTL,
	}, store.Contexts(), contextCache, sinks.NewGzipCompressor(), dispatcher, archiver)
	formationEngine := services.NewTeamFormationEngine(svcCfg, services.FormationConfig{
		CapabilityMatchThreshold: cfg.TeamFormation.CapabilityMatchThreshold,
	}, store.Tasks(), store.Teams(), store.Agents())
	negotiationEngine := services.NewNegotiationEngine(svcCfg, services.NegotiationEngineConfig{
		MaxRounds:                   cfg.Negotiation.MaxRounds,
		Timeout:                     cfg.Negotiation.Timeout,
		DefaultStrategy:             cfg.Negotiation.DefaultStrategy,
		FallbackStrategy:            cfg.Negotiation.FallbackStrategy,
		DisableResourceOptimization: !cfg.Negotiation.ResourceOptimizationEnabled,
		ResourceMaxQuantity:         cfg.Negotiation.ResourceMaxQuantity,
	}, store.Negotiations(), store.Agents(), contextEngine)

	for _, service := range []interface{}{agentService, contextEngine, formationEngine, negotiationEngine} {
		if aware, ok := service.(interface{ SetEventPublisher(events.Publisher) }); ok {
			aware.SetEventPublisher(publisher)
		}
	}

	sweeper := services.NewNegotiationSweeper(negotiationEngine, cfg.Negotiation.SweepInterval, clock.Real(), logger)
	defer sweeper.Stop()

	logger.Info("Agent mesh started", map[string]interface{}{
		"environment": cfg.Environment,
		"database":    cfg.Database.Driver,
		"cache":       cfg.Cache.Type,
		"events":      cfg.Events.Type,
		"archive":     cfg.Archive.Type,
	})

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	// The deferred stops run in reverse construction order: the sweeper
	// first, then the dispatcher and archiver, then sinks and stores.
}

// buildLogger constructs the process logger at the configured level.
func buildLogger(cfg observability.LoggingConfig) observability.Logger {
	logger := observability.NewStandardLogger("server")
	std, ok := logger.(*observability.StandardLogger)
	if !ok || cfg.Level == "" {
		return logger
	}
	return std.WithLevel(observability.LogLevel(strings.ToUpper(cfg.Level)))
}

// applySchema brings the database schema up to date before the store opens.
func applySchema(ctx context.Context, db *sqlx.DB, logger observability.Logger) error {
	runner, err := migrations.NewRunner(db, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("Failed to close migration runner", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	if err := runner.Up(ctx); err != nil {
		return err
	}

	version, dirty, err := runner.Version()
	if err != nil {
		return err
	}
	logger.Info("Database schema ready", map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	})
	return nil
}
