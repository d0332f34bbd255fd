// internal/handler/instrument_handler.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-service/internal/instrument"
	"psu-service/internal/model"
	"psu-service/internal/session"
	"psu-service/internal/utils"
)

// InstrumentHandler exposes the live session operations
type InstrumentHandler struct {
	manager *session.Manager
	logger  *zap.Logger
}

// NewInstrumentHandler creates a new instrument handler
func NewInstrumentHandler(manager *session.Manager, logger *zap.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		manager: manager,
		logger:  logger.With(zap.String("handler", "instrument")),
	}
}

// ConnectRequest is the connect request body
type ConnectRequest struct {
	Port string `json:"port" binding:"required"`
}

// SetLimitRequest is the setpoint request body
type SetLimitRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

// RecordingRequest is the start-recording request body
type RecordingRequest struct {
	Path string `json:"path"`
}

// Connect opens a live session on the requested port
func (h *InstrumentHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid connect request", err)
		return
	}

	if err := h.manager.Connect(req.Port); err != nil {
		utils.LogError(h.logger, "Connect failed", err, zap.String("port", req.Port))
		utils.ErrorResponse(c, statusForError(err), "Failed to connect", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument connected", h.manager.Status())
}

// Disconnect tears the live session down
func (h *InstrumentHandler) Disconnect(c *gin.Context) {
	if err := h.manager.Disconnect(); err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to disconnect", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument disconnected", nil)
}

// Status returns a session snapshot
func (h *InstrumentHandler) Status(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Session status", h.manager.Status())
}

// Identity returns the connected instrument's identity record
func (h *InstrumentHandler) Identity(c *gin.Context) {
	identity, err := h.manager.Identity()
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get identity", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument identity", identity)
}

// GetMeasurement reads one value on demand
func (h *InstrumentHandler) GetMeasurement(c *gin.Context) {
	channel, ok := model.ParseChannel(c.Param("channel"))
	if !ok {
		utils.ErrorResponse(c, http.StatusBadRequest, "Unknown channel", nil)
		return
	}

	value, err := h.manager.Measurement(channel)
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to read measurement", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Measurement", gin.H{
		"channel": channel,
		"value":   value,
	})
}

// SetLimit transmits a setpoint for the channel
func (h *InstrumentHandler) SetLimit(c *gin.Context) {
	channel, ok := model.ParseChannel(c.Param("channel"))
	if !ok {
		utils.ErrorResponse(c, http.StatusBadRequest, "Unknown channel", nil)
		return
	}

	var req SetLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid setpoint request", err)
		return
	}

	if err := h.manager.SetLimit(channel, *req.Value); err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to set limit", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Limit set", gin.H{
		"channel": channel,
		"value":   *req.Value,
	})
}

// StartRecording begins CSV recording of polled measurements
func (h *InstrumentHandler) StartRecording(c *gin.Context) {
	var req RecordingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid recording request", err)
			return
		}
	}

	path, err := h.manager.StartRecording(req.Path)
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to start recording", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Recording started", gin.H{"path": path})
}

// StopRecording closes the active recording
func (h *InstrumentHandler) StopRecording(c *gin.Context) {
	if err := h.manager.StopRecording(); err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to stop recording", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Recording stopped", nil)
}

// statusForError maps the instrument error taxonomy onto HTTP statuses
func statusForError(err error) int {
	switch {
	case errors.Is(err, instrument.ErrValueOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, instrument.ErrNotConnected),
		errors.Is(err, instrument.ErrAlreadyConnected),
		errors.Is(err, instrument.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, instrument.ErrPortUnavailable),
		errors.Is(err, instrument.ErrPortAccessDenied),
		errors.Is(err, instrument.ErrEnumeration):
		return http.StatusServiceUnavailable
	case errors.Is(err, instrument.ErrReadTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, instrument.ErrParse),
		errors.Is(err, instrument.ErrRead),
		errors.Is(err, instrument.ErrWrite):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
