// internal/handler/discovery_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dut-service/internal/service"
	"dut-service/internal/utils"
)

// DiscoveryHandler serves interface enumeration and endpoint scans
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// ProbeRequest is the body of POST /discovery/probe
type ProbeRequest struct {
	Host      string `json:"host" binding:"required"`
	Ports     []int  `json:"ports" binding:"required,min=1"`
	TimeoutMs int    `json:"timeout_ms" binding:"gte=0"`
}

// ListInterfaces returns all local network interfaces
// @Summary List interfaces
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]discovery.InterfaceInfo}
// @Router /interfaces [get]
func (h *DiscoveryHandler) ListInterfaces(c *gin.Context) {
	infos, err := h.discoveryService.Interfaces()
	if err != nil {
		h.logger.Error("Failed to list interfaces", zap.Error(err))
		respondError(c, "Failed to list interfaces", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Interfaces retrieved", infos)
}

// GetInterface returns one interface by name
// @Summary Interface details
// @Tags Discovery
// @Param name path string true "Interface name"
// @Failure 404 {object} utils.APIResponse
// @Router /interfaces/{name} [get]
func (h *DiscoveryHandler) GetInterface(c *gin.Context) {
	info, err := h.discoveryService.Interface(c.Param("name"))
	if err != nil {
		respondError(c, "Interface not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Interface retrieved", info)
}

// ScanEndpoints scans for DUT endpoints
// @Summary Scan for endpoints
// @Tags Discovery
// @Param type query string false "Scan type" Enums(all, nic, serial, tcp) default(all)
// @Param timeout query string false "Scan timeout" default(10s)
// @Router /discovery/scan [get]
func (h *DiscoveryHandler) ScanEndpoints(c *gin.Context) {
	req := &service.ScanRequest{
		ScanType: c.DefaultQuery("type", "all"),
		Timeout:  c.Query("timeout"),
	}

	endpoints, err := h.discoveryService.ScanEndpoints(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to scan endpoints", zap.Error(err))
		respondError(c, "Failed to scan endpoints", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Endpoint scan completed", gin.H{
		"endpoints_found": len(endpoints),
		"endpoints":       endpoints,
	})
}

// ListScanners returns the usable scanner types
// @Router /discovery/scanners [get]
func (h *DiscoveryHandler) ListScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved", h.discoveryService.Scanners())
}

// ProbePorts checks which TCP ports on a host accept connections
// @Router /discovery/probe [post]
func (h *DiscoveryHandler) ProbePorts(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	results, err := h.discoveryService.ProbePorts(c.Request.Context(), req.Host, req.Ports,
		time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		respondError(c, "Probe failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Probe completed", results)
}
