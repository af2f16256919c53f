package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/auditlens/auditlens-backend/internal/handlers"
)

type RouterConfig struct {
	ServiceName  string
	AuditHandler *handlers.AuditHandler
	SSEHandler   *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		if cfg.AuditHandler != nil {
			api.POST("/sessions", cfg.AuditHandler.CreateSession)
			api.GET("/sessions", cfg.AuditHandler.ListSessions)
			api.GET("/sessions/:id", cfg.AuditHandler.GetSession)
			api.DELETE("/sessions/:id", cfg.AuditHandler.DeleteSession)

			api.POST("/sessions/:id/run", cfg.AuditHandler.StartRun)
			api.POST("/sessions/:id/pause", cfg.AuditHandler.PauseSession)
			api.POST("/sessions/:id/resume", cfg.AuditHandler.ResumeSession)
			api.POST("/sessions/:id/stop", cfg.AuditHandler.StopSession)
			api.POST("/sessions/:id/abort", cfg.AuditHandler.AbortRun)
			api.POST("/sessions/:id/continue", cfg.AuditHandler.ContinueToNextStep)
			api.POST("/sessions/:id/restart-step", cfg.AuditHandler.RestartStep)

			api.GET("/sessions/:id/steps", cfg.AuditHandler.ListSteps)
			api.GET("/sessions/:id/progress", cfg.AuditHandler.GetProgress)
			api.GET("/sessions/:id/snapshot", cfg.AuditHandler.GetSnapshot)

			api.POST("/sessions/:id/save", cfg.AuditHandler.SaveAuditData)
			api.POST("/sessions/:id/clear", cfg.AuditHandler.ClearAuditData)
			api.GET("/sessions/:id/export", cfg.AuditHandler.ExportAuditData)
		}
		if cfg.SSEHandler != nil {
			api.GET("/sessions/:id/events", cfg.SSEHandler.StreamSessionEvents)
		}
	}

	return router
}
