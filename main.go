package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/classkit/scanlink-service/internal/config"
	"github.com/classkit/scanlink-service/internal/detect"
	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/handlers"
	"github.com/classkit/scanlink-service/internal/repositories/casdoor"
	"github.com/classkit/scanlink-service/internal/repositories/postgres"
	"github.com/classkit/scanlink-service/internal/services"
	"github.com/classkit/scanlink-service/internal/storage"
	"github.com/classkit/scanlink-service/internal/utils"
	"github.com/classkit/scanlink-service/internal/validator"
	"github.com/classkit/scanlink-service/pkg"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis: %v", err)
		}
	}

	// Initialize repositories
	repoConfig := postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	}
	repoManager := postgres.NewRepositoryManager(repoConfig)
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}

	// Initialize validator
	v := validator.New()

	// Initialize artifact storage; fall back to the in-memory store when no
	// object storage is configured (development only)
	var artifactStore storage.ArtifactStore
	if cfg.MinIO.AccessKey != "" {
		minioStore, err := storage.NewMinIOStore(storage.MinIOConfig{
			Endpoint:    cfg.MinIO.Endpoint,
			AccessKey:   cfg.MinIO.AccessKey,
			SecretKey:   cfg.MinIO.SecretKey,
			Bucket:      cfg.MinIO.Bucket,
			Region:      cfg.MinIO.Region,
			UseSSL:      cfg.MinIO.UseSSL,
			MaxGetBytes: cfg.MinIO.MaxGetBytes,
		})
		if err != nil {
			log.Fatalf("Failed to initialize artifact storage: %v", err)
		}
		artifactStore = minioStore
	} else {
		slogLogger.Warn("No object storage configured, artifacts will not survive restarts")
		artifactStore = storage.NewMemoryStore()
	}

	// Initialize event publisher
	var publisher events.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := events.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, slogLogger)
		if err != nil {
			log.Fatalf("Failed to initialize event publisher: %v", err)
		}
		publisher = kafkaPublisher
	} else {
		publisher = events.NoopEventPublisher{}
	}

	// Initialize services
	serviceManager := services.NewServiceManager(services.ServiceManagerConfig{
		DB:        db,
		Repo:      repoManager.GetRepository(),
		Store:     artifactStore,
		Detector:  detect.NewQRDetector(),
		Publisher: publisher,
		Logger:    slogLogger,
		Validator: v,
		Upload:    cfg.Upload,
	})

	ctx := context.Background()
	if err := serviceManager.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Initialize handlers and router
	handlerManager := handlers.NewHandlerManager(
		serviceManager,
		v,
		logger,
		cfg.Casdoor,
		cfg.Upload,
		repoManager.GetRepository().User(),
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slogLogger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slogLogger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slogLogger.Error("Server shutdown failed", "error", err)
	}
	if err := serviceManager.Shutdown(shutdownCtx); err != nil {
		slogLogger.Error("Service shutdown failed", "error", err)
	}
	if err := repoManager.Shutdown(shutdownCtx); err != nil {
		slogLogger.Error("Repository shutdown failed", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slogLogger.Error("Redis shutdown failed", "error", err)
		}
	}

	slogLogger.Info("Server stopped")
}
