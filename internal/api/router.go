package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/metrics"
)

// NewRouter builds the engine with the shared middleware chain, the health
// check and the metrics endpoint. API routes are added by RegisterRoutes.
func NewRouter(logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}
