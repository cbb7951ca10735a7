package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/api/handler"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/api/router"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/config"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/cache"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/dispatch"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/events"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/provider"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/store"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/shared/logger"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/shared/postgresql"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/shared/rabbitmq"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/shared/redisclient"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("SEARCH_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/search-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting search cache service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Storage.Backend),
	)

	// Initialize the entry store for the configured backend
	entryStore, closeStore, err := initStore(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()

	appLogger.Info("Entry store initialized", slog.String("backend", cfg.Storage.Backend))

	// Initialize RabbitMQ and the terminal event publisher, when enabled
	var rabbitClient *rabbitmq.Client
	var publisher *events.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		publisher = events.NewPublisher(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	// Dispatch queue and worker pool
	dispatchWorker := dispatch.NewWorker(&dispatch.Config{
		Logger:      appLogger.Logger,
		QueueSize:   cfg.Dispatch.QueueSize,
		Concurrency: cfg.Dispatch.Concurrency,
	})

	// Provider client for job submission and dataset fetches
	providerClient := provider.NewClient(&provider.Config{
		Logger:            appLogger.Logger,
		BaseURL:           cfg.Provider.BaseURL,
		Token:             cfg.Provider.Token,
		WebhookURL:        cfg.Provider.WebhookURL,
		SearchTemplate:    cfg.Provider.SearchTemplate,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	})

	// Admission cache over the store; submissions go through the dispatch queue
	cacheCfg := cache.Config{
		Logger:         appLogger.Logger,
		Store:          entryStore,
		Capacity:       cfg.Cache.Capacity,
		EntryTTL:       cfg.Cache.EntryTTL,
		PendingTimeout: cfg.Cache.PendingTimeout,
		SweepInterval:  cfg.Cache.SweepInterval,
		PurgeInterval:  cfg.Cache.PurgeInterval,
		Submitter:      dispatchWorker,
	}
	if publisher != nil {
		cacheCfg.Events = publisher
	}

	searchCache, err := cache.New(cacheCfg)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	// Start the worker pool, then restore cache state and begin sweeps
	processor := dispatch.NewJobProcessor(appLogger.Logger, providerClient, searchCache)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dispatchWorker.Start(workerCtx, processor)

	if err := searchCache.Start(workerCtx); err != nil {
		dispatchWorker.Stop()
		return fmt.Errorf("failed to start cache: %w", err)
	}

	appLogger.Info("Cache and dispatch started",
		slog.Int("capacity", cfg.Cache.Capacity),
		slog.Int("queue_size", cfg.Dispatch.QueueSize),
		slog.Int("concurrency", cfg.Dispatch.Concurrency),
	)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, searchCache, dispatchWorker)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Search cache service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Stop accepting requests first, then wind down the background work
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	searchCache.Stop()
	workerCancel()
	dispatchWorker.Stop()

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initStore builds the entry store for the configured backend and returns
// a close function for its underlying connections.
func initStore(cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return store.NewMemory(), func() {}, nil

	case config.BackendPostgres:
		dbClient, err := initPostgreSQL(&cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}

		pgStore := store.NewPostgres(dbClient, log)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			dbClient.Close()
			return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
		}

		return pgStore, func() { dbClient.Close() }, nil

	case config.BackendRedis:
		redisClient, err := redisclient.NewClient(&redisclient.Config{
			URL:      cfg.Redis.URL,
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			return nil, nil, err
		}

		return store.NewRedis(redisClient, cfg.Redis.KeyPrefix, log), func() { redisClient.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, searchCache *cache.Cache, dispatchWorker *dispatch.Worker) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Cache:        searchCache,
		Dispatch:     dispatchWorker,
		WebhookToken: cfg.Security.WebhookToken,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
