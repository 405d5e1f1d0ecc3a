package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/coursekb/coursekb-backend/internal/http/handlers"
	"github.com/coursekb/coursekb-backend/internal/http/middleware"
)

type RouterConfig struct {
	AuthMiddleware *middleware.AuthMiddleware
	ChatHandler    *handlers.ChatHandler
	SearchHandler  *handlers.SearchHandler
	LessonHandler  *handlers.LessonHandler
	AdminHandler   *handlers.AdminHandler
	AllowOrigins   []string
	TracingEnabled bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("coursekb-backend"))
	}

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/chat", cfg.ChatHandler.Chat)
		api.POST("/search", cfg.SearchHandler.Search)
		api.GET("/lessons/:id", cfg.LessonHandler.GetLesson)
	}

	admin := api.Group("/admin")
	admin.Use(cfg.AuthMiddleware.RequireRole("admin"))
	{
		admin.POST("/lessons/:id/chunk", cfg.AdminHandler.ChunkLesson)
		admin.POST("/lessons/chunk-all", cfg.AdminHandler.ChunkAllLessons)
		admin.GET("/lessons/:id/chunks", cfg.AdminHandler.GetLessonChunks)
		admin.POST("/lessons/:id/embed", cfg.AdminHandler.EmbedLesson)
		admin.POST("/lessons/:id/reembed", cfg.AdminHandler.ReEmbedLesson)
		admin.POST("/embeddings/sweep", cfg.AdminHandler.EmbedSweep)
		admin.GET("/embeddings/stats", cfg.AdminHandler.EmbeddingStats)
	}

	return router
}
