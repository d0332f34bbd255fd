// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/database"
	"psu-service/internal/utils"
)

// HealthHandler exposes liveness and readiness probes
type HealthHandler struct {
	db     *database.DB // nil when storage is disabled
	config *config.Config
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		config: config,
		logger: logger.With(zap.String("handler", "health")),
	}
}

// HealthCheck reports overall service health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	data := gin.H{
		"name":        h.config.App.Name,
		"version":     h.config.App.Version,
		"environment": h.config.App.Environment,
		"storage":     h.config.Storage.Enabled,
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("Database health check failed", zap.Error(err))
			data["database"] = "unreachable"
			utils.ErrorResponse(c, http.StatusServiceUnavailable, "Service degraded", err)
			return
		}
		data["database"] = "ok"
	}

	utils.SuccessResponse(c, http.StatusOK, "Service healthy", data)
}

// ReadinessCheck reports whether the service can take traffic
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			utils.ErrorResponse(c, http.StatusServiceUnavailable, "Not ready", err)
			return
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Ready", nil)
}

// LivenessCheck reports process liveness
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Alive", nil)
}
