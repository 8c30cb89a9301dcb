// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dut-service/internal/config"
	"dut-service/internal/model"
	"dut-service/internal/service"
	"dut-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	dutService *service.DUTService
	config     *config.Config
	startedAt  time.Time
	logger     *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(dutService *service.DUTService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		dutService: dutService,
		config:     config,
		startedAt:  time.Now(),
		logger:     utils.NewServiceLogger(logger, "health-handler"),
	}
}

// HealthCheck reports service health including the DUT link.
// A degraded service still answers 200; only an unhealthy DUT probe
// after a successful connect is reported as 503.
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	st := h.dutService.Status()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	link := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"state":     st.State,
			"cli_state": st.CLIState,
			"endpoint":  st.Endpoint,
			"protocol":  st.Protocol,
		},
	}
	switch {
	case st.Degraded:
		health.Status = "degraded"
		link.Status = "degraded"
		link.Message = st.LastError
	case st.State != model.ConnectionConnected:
		link.Status = "disconnected"
	}
	health.Checks["dut_link"] = link

	if !st.Health.CheckedAt.IsZero() {
		probe := CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"checked_at":           st.Health.CheckedAt,
				"response_time_ms":     st.Health.ResponseTimeMs,
				"consecutive_failures": st.Health.ConsecutiveFailures,
			},
		}
		if !st.Health.Healthy {
			probe.Status = "unhealthy"
			probe.Message = st.Health.Error
			if !st.Degraded {
				health.Status = "unhealthy"
			}
		}
		health.Checks["dut_probe"] = probe
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

// ReadinessCheck is ready once the DUT data link is up
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	st := h.dutService.Status()
	if st.State != model.ConnectionConnected {
		reason := "dut not connected"
		if st.Degraded {
			reason = "degraded: " + st.LastError
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
