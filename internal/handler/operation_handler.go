// internal/handler/operation_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dut-service/internal/model"
	"dut-service/internal/service"
	"dut-service/internal/utils"
)

// OperationHandler starts and tracks link test operations
type OperationHandler struct {
	operationService *service.OperationService
	logger           *utils.ServiceLogger
}

// NewOperationHandler creates a new operation handler
func NewOperationHandler(operationService *service.OperationService, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{
		operationService: operationService,
		logger:           utils.NewServiceLogger(logger, "operation-handler"),
	}
}

// LatencyProbeRequest is the body of POST /dut/operations/latency
type LatencyProbeRequest struct {
	Command    *int   `json:"command" binding:"omitempty,gte=0,lte=255"`
	PayloadHex string `json:"payload_hex"`
	Count      int    `json:"count" binding:"required,gt=0"`
	IntervalMs int    `json:"interval_ms" binding:"gte=0"`
}

// BurstRequest is the body of POST /dut/operations/burst
type BurstRequest struct {
	Command    *int   `json:"command" binding:"required,gte=0,lte=255"`
	PayloadHex string `json:"payload_hex"`
	Count      int    `json:"count" binding:"required,gt=0"`
	Checksum   bool   `json:"checksum"`
}

// StressRequest is the body of POST /dut/operations/stress
type StressRequest struct {
	DurationMs int `json:"duration_ms" binding:"required,gt=0"`
	PacketSize int `json:"packet_size" binding:"required,gt=0"`
}

// LatencyProbeOperation starts a latency probe
// @Summary Latency probe
// @Tags Operations
// @Accept json
// @Produce json
// @Param request body LatencyProbeRequest true "Probe"
// @Success 202 {object} utils.APIResponse{data=model.Operation}
// @Router /dut/operations/latency [post]
func (h *OperationHandler) LatencyProbeOperation(c *gin.Context) {
	var req LatencyProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	params := model.LatencyProbeParams{
		PayloadHex: req.PayloadHex,
		Count:      req.Count,
		IntervalMs: req.IntervalMs,
	}
	if req.Command != nil {
		params.Command = byte(*req.Command)
	}
	h.execute(c, &service.OperationRequest{
		OperationType: model.OperationTypeLatencyProbe,
		Latency:       params,
	})
}

// BurstOperation starts a burst send
// @Router /dut/operations/burst [post]
func (h *OperationHandler) BurstOperation(c *gin.Context) {
	var req BurstRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.execute(c, &service.OperationRequest{
		OperationType: model.OperationTypeBurst,
		Burst: model.BurstParams{
			Command:    byte(*req.Command),
			PayloadHex: req.PayloadHex,
			Count:      req.Count,
			Checksum:   req.Checksum,
		},
	})
}

// StressOperation starts a stress run
// @Router /dut/operations/stress [post]
func (h *OperationHandler) StressOperation(c *gin.Context) {
	var req StressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.execute(c, &service.OperationRequest{
		OperationType: model.OperationTypeStress,
		Stress: model.StressParams{
			DurationMs: req.DurationMs,
			PacketSize: req.PacketSize,
		},
	})
}

func (h *OperationHandler) execute(c *gin.Context, req *service.OperationRequest) {
	operation, err := h.operationService.ExecuteOperation(req)
	if err != nil {
		h.logger.Warn("Operation rejected",
			zap.String("operation_type", string(req.OperationType)),
			zap.Error(err),
		)
		respondError(c, "Failed to start operation", err)
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Operation started", operation)
}

// GetOperation returns one operation
// @Router /dut/operations/{operation_id} [get]
func (h *OperationHandler) GetOperation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("operation_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid operation ID", err)
		return
	}

	operation, err := h.operationService.GetOperation(id)
	if err != nil {
		respondError(c, "Operation not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Operation retrieved", operation)
}

// ListOperations returns recent operations, newest first
// @Router /dut/operations [get]
func (h *OperationHandler) ListOperations(c *gin.Context) {
	operations := h.operationService.ListOperations()
	utils.SuccessResponse(c, http.StatusOK, "Operations retrieved", gin.H{
		"operations": operations,
		"total":      len(operations),
	})
}

// CancelOperation stops a running operation
// @Router /dut/operations/{operation_id}/cancel [put]
func (h *OperationHandler) CancelOperation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("operation_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid operation ID", err)
		return
	}

	if err := h.operationService.CancelOperation(id); err != nil {
		respondError(c, "Failed to cancel operation", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Operation cancellation requested", gin.H{"operation_id": id})
}
