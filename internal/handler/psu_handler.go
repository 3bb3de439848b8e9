// internal/handler/psu_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-sequencer/internal/discovery"
	"psu-sequencer/internal/sequencer"
	"psu-sequencer/internal/service"
	"psu-sequencer/internal/utils"
	"psu-sequencer/pkg/driver"
)

// PSUController is the service surface the HTTP API drives
type PSUController interface {
	RunSequenceToCompletion(ctx context.Context, name string) (*service.RunResult, error)
	Identify(ctx context.Context) (*driver.DeviceInfo, error)
	Preview(name string) ([]sequencer.PreviewStep, error)
	Sequences() []string
	ListPorts(ctx context.Context) ([]*discovery.DiscoveredPort, error)
}

// PSUHandler handles sequence and device requests
type PSUHandler struct {
	psu    PSUController
	logger *utils.ServiceLogger
}

// NewPSUHandler creates a new PSU handler
func NewPSUHandler(psu PSUController, logger *zap.Logger) *PSUHandler {
	return &PSUHandler{
		psu:    psu,
		logger: utils.NewServiceLogger(logger, "psu-handler"),
	}
}

// ListSequences returns the registered sequence names
// GET /api/v1/sequences
func (h *PSUHandler) ListSequences(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Sequences retrieved", gin.H{
		"sequences": h.psu.Sequences(),
	})
}

// PreviewSequence returns the lines a run would send, without touching the port
// GET /api/v1/sequences/:name/preview
func (h *PSUHandler) PreviewSequence(c *gin.Context) {
	name := c.Param("name")

	steps, err := h.psu.Preview(name)
	if err != nil {
		h.respondError(c, "Failed to preview sequence", err)
		return
	}

	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, s.String())
	}

	utils.SuccessResponse(c, http.StatusOK, "Sequence preview generated", gin.H{
		"sequence": name,
		"lines":    lines,
		"steps":    steps,
	})
}

// RunSequence runs a sequence on the PSU. A client hanging up before the
// device has answered *IDN? cancels the run; after that it runs to the end.
// POST /api/v1/sequences/:name/run
func (h *PSUHandler) RunSequence(c *gin.Context) {
	name := c.Param("name")

	result, err := h.psu.RunSequenceToCompletion(c.Request.Context(), name)
	if err != nil {
		h.logger.Error("Sequence run failed",
			zap.String("sequence", name),
			zap.String("request_id", c.GetString(utils.RequestIDKey)),
			zap.Error(err),
		)
		h.respondError(c, "Sequence run failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Sequence completed", result)
}

// Identify queries *IDN? and returns the parsed identity
// GET /api/v1/device/identify
func (h *PSUHandler) Identify(c *gin.Context) {
	info, err := h.psu.Identify(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to identify device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device identified", info)
}

// ListPorts scans the host serial ports
// GET /api/v1/ports
func (h *PSUHandler) ListPorts(c *gin.Context) {
	ports, err := h.psu.ListPorts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to scan ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}

func (h *PSUHandler) respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, statusForError(err), message, err)
}

// statusForError maps sequencer and device failures onto HTTP statuses
func statusForError(err error) int {
	switch {
	case errors.Is(err, sequencer.ErrUnknownSequence):
		return http.StatusNotFound
	case errors.Is(err, driver.ErrWrongDevice):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
