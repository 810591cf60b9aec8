package main

import (
	"database/sql"
	"net/http"
	"time"

	"rental-platform/internal/auth"
	"rental-platform/internal/httpapi"
	"rental-platform/internal/metrics"
	"rental-platform/pkg/logger"
	"rental-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, db *sql.DB, reg *metrics.Registry, h httpapi.Handlers, tokens *auth.Manager) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			logger.FromGin(c).Warn("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(reg.Handler()))

	httpapi.Register(r, h, tokens)
}
