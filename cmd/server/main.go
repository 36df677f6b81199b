package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/pkg/config"
	"github.com/spb722/ai-companion/pkg/di"
	"github.com/spb722/ai-companion/pkg/kv"
	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/observability"
	"github.com/spb722/ai-companion/pkg/router"
	"github.com/spb722/ai-companion/pkg/secrets"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found")
	}

	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting gateway", "env", cfg.Server.Env, "version", os.Getenv("APP_VERSION"))

	if err := secrets.Init(log); err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}

	shutdownTracing := observability.SetupTracing("ai-companion-gateway")
	defer shutdownTracing()
	meterProvider := observability.SetupMetrics()
	defer func() {
		_ = meterProvider.Shutdown(context.Background())
	}()

	// Initialize database
	db, err := config.NewDB()
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	// Auto-migrate the schema
	if err := db.AutoMigrate(
		&models.User{},
		&models.Character{},
		&models.Conversation{},
		&models.Message{},
	); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	// Connect the shared key-value store
	store := kv.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		// The gateway still serves with a degraded store; the rate limiter
		// fails open and context windows rebuild from the database.
		log.Warn("Key-value store unreachable at startup", "error", err.Error())
	}

	// Initialize dependency injection container
	container, err := di.New(cfg, log, db, store)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	container.Health.Start(context.Background())
	defer container.Health.Stop()

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited gracefully")
}
