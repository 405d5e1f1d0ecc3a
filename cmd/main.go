package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/coursekb/coursekb-backend/internal/app"
	"github.com/coursekb/coursekb-backend/internal/data/db"
	"github.com/coursekb/coursekb-backend/internal/data/repos/learning"
	httphandlers "github.com/coursekb/coursekb-backend/internal/http/handlers"
	"github.com/coursekb/coursekb-backend/internal/http/middleware"
	"github.com/coursekb/coursekb-backend/internal/observability"
	"github.com/coursekb/coursekb-backend/internal/platform/embed"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
	"github.com/coursekb/coursekb-backend/internal/platform/openai"
	"github.com/coursekb/coursekb-backend/internal/server"
	"github.com/coursekb/coursekb-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := app.LoadConfig(log)
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY is required")
	}

	// Tracing
	shutdownTracing, err := observability.Setup(log, cfg.TracingEnabled)
	if err != nil {
		log.Fatal("Tracing setup failed", "error", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.Migrate(); err != nil {
		log.Fatal("Postgres migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos")
	lessonRepo := learning.NewLessonRepo(thePG, log)
	lessonChunkRepo := learning.NewLessonChunkRepo(thePG, log)
	enrollmentRepo := learning.NewEnrollmentRepo(thePG, log)

	// Provider clients
	embedClient, err := embed.NewClientFromEnv(log)
	if err != nil {
		log.Fatal("Embedding client init failed", "error", err)
	}
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}

	// Sweep notifier; noop unless Redis is configured
	notifier := services.NewNoopSweepNotifier()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		notifier = services.NewRedisSweepNotifier(redisClient, log)
		log.Info("Sweep progress publishing to Redis", "addr", cfg.RedisAddr)
	}

	// Services
	log.Info("Setting up services")
	chunkingService := services.NewLessonChunkingService(thePG, log, lessonRepo, lessonChunkRepo)
	embeddingService := services.NewLessonEmbeddingService(thePG, log, embedClient, lessonChunkRepo, notifier)
	retrievalService := services.NewRetrievalService(thePG, log, embedClient, lessonRepo, lessonChunkRepo, enrollmentRepo)
	chatService := services.NewChatAgentService(log, openaiClient, retrievalService)

	// Handlers + middleware
	log.Info("Setting up handlers")
	chatHandler := httphandlers.NewChatHandler(log, chatService)
	searchHandler := httphandlers.NewSearchHandler(log, retrievalService)
	lessonHandler := httphandlers.NewLessonHandler(log, retrievalService)
	adminHandler := httphandlers.NewAdminHandler(log, chunkingService, embeddingService, cfg.SweepConcurrency)
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.JWTSecret)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware: authMiddleware,
		ChatHandler:    chatHandler,
		SearchHandler:  searchHandler,
		LessonHandler:  lessonHandler,
		AdminHandler:   adminHandler,
		AllowOrigins:   cfg.AllowOrigins,
		TracingEnabled: cfg.TracingEnabled,
	})

	log.Info("Server listening", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
