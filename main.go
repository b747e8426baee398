package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/database"
	"ledger-service/internal/events"
	"ledger-service/internal/handlers"
	"ledger-service/internal/idempotency"
	"ledger-service/internal/logger"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Initialize the logger from ENV vars - supports Log level and file logging
	logger := logger.NewFromEnv()
	defer logger.Sync()
	logger.Info("Starting ledger service")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.Info("Configuration loaded - server_address: %s, storage: %s", cfg.ServerAddress, cfg.StorageDriver)

	ctx := context.Background()

	var (
		store repository.Store
		db    *sql.DB
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		store = repository.NewMemoryStore()
		logger.Warn("Using in-memory storage, balances are lost on restart")
	default:
		db, err = database.NewConnection(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("Failed to connect to database: %v", err)
			os.Exit(1)
		}
		defer db.Close()
		store = repository.NewPostgresStore(db, logger)
		logger.Info("Database connection established")
	}

	var (
		registry    idempotency.Registry
		redisClient *redis.Client
	)
	if cfg.Idempotency.RedisURL != "" {
		redisClient, err = idempotency.NewRedisClient(ctx, cfg.Idempotency.RedisURL)
		if err != nil {
			logger.Error("Failed to connect to redis: %v", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		registry = idempotency.NewRedisRegistry(redisClient, cfg.Idempotency.TTL, cfg.Idempotency.LockTTL, cfg.Idempotency.Wait)
		logger.Info("Idempotency registry backed by redis")
	} else {
		registry = idempotency.NewMemoryRegistry(cfg.Idempotency.TTL, cfg.Idempotency.LockTTL, cfg.Idempotency.Wait)
		logger.Info("Idempotency registry kept in memory")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info("Publishing transaction events - brokers: %v, topic: %s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close event publisher: %v", err)
		}
	}()

	accountService := service.NewAccountService(store, logger)
	transactionService := service.NewTransactionService(store, registry, publisher, logger)

	accountHandler := handlers.NewAccountHandler(accountService, transactionService)
	transactionHandler := handlers.NewTransactionHandler(transactionService)
	healthHandler := handlers.NewHealthHandler(store)

	router := handlers.SetupRoutes(accountHandler, transactionHandler, healthHandler, logger, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server - address: %s", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Received shutdown signal, shutting down server...")
	case err := <-serverErr:
		logger.Error("Failed to start server: %v", err)
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
		return
	}

	logger.Info("Server shutdown completed")
}
