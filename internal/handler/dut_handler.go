// internal/handler/dut_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dut-service/internal/service"
	"dut-service/internal/utils"
)

// DUTHandler exposes the DUT connection over HTTP
type DUTHandler struct {
	dutService *service.DUTService
	logger     *utils.ServiceLogger
}

// NewDUTHandler creates a new DUT handler
func NewDUTHandler(dutService *service.DUTService, logger *zap.Logger) *DUTHandler {
	return &DUTHandler{
		dutService: dutService,
		logger:     utils.NewServiceLogger(logger, "dut-handler"),
	}
}

// SendPacketRequest is the body of POST /dut/packets
type SendPacketRequest struct {
	Command     *int   `json:"command" binding:"required,gte=0,lte=255"`
	PayloadHex  string `json:"payload_hex"`
	Checksum    bool   `json:"checksum"`
	CRC32       bool   `json:"crc32"`
	ExpectReply bool   `json:"expect_reply"`
}

// ExecuteCommandsRequest is the body of POST /dut/cli
type ExecuteCommandsRequest struct {
	Commands  []string `json:"commands" binding:"required,min=1,dive,required"`
	TimeoutMs int      `json:"timeout_ms" binding:"gte=0"`
}

// ParseOutputRequest is the body of POST /dut/cli/parse
type ParseOutputRequest struct {
	Output  string `json:"output"`
	Pattern string `json:"pattern" binding:"required"`
}

// GetStatus returns connection state, health and configuration
// @Summary DUT status
// @Tags DUT
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.Status}
// @Router /dut [get]
func (h *DUTHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "DUT status", h.dutService.Status())
}

// Connect opens the DUT data link
// @Summary Connect to the DUT
// @Tags DUT
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.Status}
// @Failure 502 {object} utils.APIResponse
// @Router /dut/connect [post]
func (h *DUTHandler) Connect(c *gin.Context) {
	if err := h.dutService.Connect(c.Request.Context()); err != nil {
		h.logger.Error("DUT connect failed", zap.Error(err))
		respondError(c, "Failed to connect to DUT", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Connected to DUT", h.dutService.Status())
}

// Disconnect closes the DUT links
// @Router /dut/disconnect [post]
func (h *DUTHandler) Disconnect(c *gin.Context) {
	if err := h.dutService.Disconnect(); err != nil {
		h.logger.Warn("DUT disconnect reported errors", zap.Error(err))
		respondError(c, "Failed to disconnect cleanly", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Disconnected from DUT", h.dutService.Status())
}

// SendPacket encodes a packet and sends it, optionally waiting for the reply
// @Summary Send a packet
// @Tags DUT
// @Accept json
// @Produce json
// @Param request body SendPacketRequest true "Packet"
// @Success 200 {object} utils.APIResponse{data=service.PacketResult}
// @Failure 400 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /dut/packets [post]
func (h *DUTHandler) SendPacket(c *gin.Context) {
	var req SendPacketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.dutService.SendPacket(c.Request.Context(), service.PacketRequest{
		Command:     byte(*req.Command),
		PayloadHex:  req.PayloadHex,
		Checksum:    req.Checksum,
		CRC32:       req.CRC32,
		ExpectReply: req.ExpectReply,
	})
	if err != nil {
		respondError(c, "Packet exchange failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Packet sent", result)
}

// ExecuteCommands runs console commands in order. Per-command failures
// are reported in the result list, the request itself still succeeds.
// @Router /dut/cli [post]
func (h *DUTHandler) ExecuteCommands(c *gin.Context) {
	var req ExecuteCommandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, map[string]string{
			"commands": "at least one non-empty command is required",
			"details":  err.Error(),
		})
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	results := h.dutService.ExecuteCommands(c.Request.Context(), req.Commands, timeout)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	utils.SuccessResponse(c, http.StatusOK, "Commands executed", gin.H{
		"results": results,
		"failed":  failed,
	})
}

// ParseOutput extracts named groups from console output
// @Router /dut/cli/parse [post]
func (h *DUTHandler) ParseOutput(c *gin.Context) {
	var req ParseOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	groups := h.dutService.Parse(req.Output, req.Pattern)
	utils.SuccessResponse(c, http.StatusOK, "Output parsed", gin.H{
		"matched": groups != nil,
		"groups":  groups,
	})
}

// GetLatency returns recorded round trip statistics
// @Router /dut/latency [get]
func (h *DUTHandler) GetLatency(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Latency statistics", gin.H{
		"statistics": h.dutService.Latency(),
		"samples_ms": h.dutService.LatencySamples(),
	})
}

// ResetLatency clears recorded samples
// @Router /dut/latency [delete]
func (h *DUTHandler) ResetLatency(c *gin.Context) {
	h.dutService.ResetLatency()
	utils.SuccessResponse(c, http.StatusOK, "Latency statistics reset", nil)
}
