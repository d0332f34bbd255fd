// internal/handler/discovery_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-service/internal/discovery"
	"psu-service/internal/session"
	"psu-service/internal/utils"
)

// DiscoveryHandler exposes port enumeration and instrument discovery
type DiscoveryHandler struct {
	manager *session.Manager
	lister  discovery.PortLister
	logger  *zap.Logger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(manager *session.Manager, lister discovery.PortLister, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		manager: manager,
		lister:  lister,
		logger:  logger.With(zap.String("handler", "discovery")),
	}
}

// ListPorts returns the current candidate port list without probing
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	candidates, err := h.lister.ListCandidatePorts()
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to enumerate ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Candidate ports", gin.H{
		"platform": h.lister.Platform(),
		"ports":    candidates,
	})
}

// Scan probes every candidate port for a responding instrument. With
// responders_only=true the outcome list is filtered to responders.
func (h *DiscoveryHandler) Scan(c *gin.Context) {
	result, err := h.manager.Scan(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Scan failed", err)
		return
	}

	respondersOnly, _ := strconv.ParseBool(c.Query("responders_only"))
	if respondersOnly {
		filtered := *result
		filtered.Outcomes = result.Responders()
		utils.SuccessResponse(c, http.StatusOK, "Scan completed", &filtered)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Scan completed", result)
}
