// internal/handler/archive_handler.go
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-service/internal/repository"
	"psu-service/internal/utils"
)

const defaultArchiveLimit = 1000

// ArchiveHandler exposes the measurement and scan archive. Only mounted when
// storage is enabled.
type ArchiveHandler struct {
	samples repository.MeasurementRepository
	scans   repository.ScanRepository
	logger  *zap.Logger
}

// NewArchiveHandler creates a new archive handler
func NewArchiveHandler(samples repository.MeasurementRepository, scans repository.ScanRepository, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		samples: samples,
		scans:   scans,
		logger:  logger.With(zap.String("handler", "archive")),
	}
}

// ListMeasurements returns archived samples recorded since the given RFC3339
// time, oldest first. Defaults to the last 24 hours.
func (h *ArchiveHandler) ListMeasurements(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since parameter", err)
			return
		}
		since = parsed
	}

	limit := defaultArchiveLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		limit = parsed
	}

	samples, err := h.samples.ListSince(c.Request.Context(), since, limit)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list archived measurements", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Archived measurements", gin.H{
		"since":   since,
		"count":   len(samples),
		"samples": samples,
	})
}

// PurgeMeasurements deletes archived samples older than the given RFC3339
// cutoff.
func (h *ArchiveHandler) PurgeMeasurements(c *gin.Context) {
	raw := c.Query("before")
	if raw == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Missing before parameter", nil)
		return
	}
	cutoff, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid before parameter", err)
		return
	}

	deleted, err := h.samples.DeleteOlderThan(c.Request.Context(), cutoff)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to purge archived measurements", err)
		return
	}

	h.logger.Info("Archived measurements purged",
		zap.Time("before", cutoff),
		zap.Int64("deleted", deleted),
	)
	utils.SuccessResponse(c, http.StatusOK, "Archived measurements purged", gin.H{
		"deleted": deleted,
	})
}

// GetScan returns an archived scan with its outcomes
func (h *ArchiveHandler) GetScan(c *gin.Context) {
	result, err := h.scans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Scan not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Archived scan", result)
}
