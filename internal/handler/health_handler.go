// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-sequencer/internal/config"
	"psu-sequencer/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// HealthCheck reports service metadata and whether the configured port exists
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if err := h.checkPort(); err != nil {
		health.Status = "unhealthy"
		health.Checks["serial_port"] = CheckResult{Status: "unhealthy", Message: err.Error()}
	} else {
		health.Checks["serial_port"] = CheckResult{
			Status:  "healthy",
			Message: "Serial port present",
			Data:    map[string]interface{}{"port": h.config.Serial.Port},
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck succeeds once the serial device node exists
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if err := h.checkPort(); err != nil {
		h.logger.Warn("Serial port not available", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "serial port not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck answers as long as the process serves requests
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// checkPort does not open the port, so it never disturbs a running sequence
func (h *HealthHandler) checkPort() error {
	_, err := os.Stat(h.config.Serial.Port)
	return err
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
