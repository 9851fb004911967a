package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shelfscan/backend/config"
)

// SetupRouter creates and configures the Gin router.
func SetupRouter(cfg *config.Config, handler *Handler, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware())
	router.Use(RequestLogger(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/resolve", handler.Resolve)
		v1.POST("/products/:id/dimensions", handler.AnalyzeDimensions)

		v1.DELETE("/identity/:key", handler.InvalidateIdentity)
		v1.DELETE("/dimensions", handler.InvalidateDimensions)
		v1.DELETE("/dimensions/:productId", handler.InvalidateDimensions)

		progress := v1.Group("/progress")
		{
			progress.GET("/:sessionId", handler.ProgressSnapshot)
			progress.GET("/:sessionId/stream", handler.StreamProgress)
		}
	}

	return router
}
