// internal/service/psu_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"psu-sequencer/internal/config"
	"psu-sequencer/internal/discovery"
	"psu-sequencer/internal/driver/hameg"
	"psu-sequencer/internal/protocol"
	"psu-sequencer/internal/sequencer"
	"psu-sequencer/internal/utils"
	"psu-sequencer/pkg/driver"
)

// ConnectionFactory creates an unopened link to the PSU
type ConnectionFactory func(cfg *protocol.SerialConfig, logger *zap.Logger) protocol.DeviceProtocol

// RunResult describes one completed sequence run
type RunResult struct {
	RunID     string             `json:"run_id"`
	Sequence  string             `json:"sequence"`
	Device    *driver.DeviceInfo `json:"device"`
	Steps     int                `json:"steps"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
}

// PSUService owns the serial link and runs sequences on it, one at a time
type PSUService struct {
	config   *config.Config
	registry *sequencer.Registry
	scanner  discovery.PortScanner
	connect  ConnectionFactory
	clock    utils.Clock
	logger   *utils.ServiceLogger

	// busy holds one token per session so there is a single writer on the PSU
	busy chan struct{}
}

// NewPSUService creates a new PSU service instance
func NewPSUService(
	config *config.Config,
	registry *sequencer.Registry,
	scanner discovery.PortScanner,
	connect ConnectionFactory,
	clock utils.Clock,
	logger *zap.Logger,
) *PSUService {
	if connect == nil {
		connect = protocol.NewSerialConnection
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}

	return &PSUService{
		config:   config,
		registry: registry,
		scanner:  scanner,
		connect:  connect,
		clock:    clock,
		logger:   utils.NewServiceLogger(logger, "psu-service"),
		busy:     make(chan struct{}, 1),
	}
}

// acquire waits for the PSU session, giving up when ctx is done
func (s *PSUService) acquire(ctx context.Context) error {
	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for PSU: %w", ctx.Err())
	}
}

func (s *PSUService) release() {
	<-s.busy
}

// RunSequence opens the PSU, runs the named sequence and closes the link.
// Cancelling ctx interrupts the run wherever it is.
func (s *PSUService) RunSequence(ctx context.Context, name string) (*RunResult, error) {
	return s.runSequence(ctx, name, false)
}

// RunSequenceToCompletion is RunSequence for callers that may go away mid-run:
// ctx bounds the wait for the PSU and the identity check, but once the device
// has answered every step is applied.
func (s *PSUService) RunSequenceToCompletion(ctx context.Context, name string) (*RunResult, error) {
	return s.runSequence(ctx, name, true)
}

func (s *PSUService) runSequence(ctx context.Context, name string, toCompletion bool) (*RunResult, error) {
	seq, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	result := &RunResult{
		RunID:     uuid.New().String(),
		Sequence:  seq.Name,
		StartedAt: time.Now(),
	}

	opLogger := utils.NewOperationLogger(s.logger.Logger, "sequence", result.RunID)
	opLogger.Start(
		zap.String("sequence", seq.Name),
		zap.String("port", s.config.Serial.Port),
		zap.Int("steps", len(seq.Steps)),
		zap.Bool("to_completion", toCompletion),
	)

	err = s.withDriver(ctx, opLogger.Logger(), func(psu *hameg.HAMEGDriver) error {
		runner := sequencer.NewRunner(psu, s.clock, opLogger.Logger())

		var res *sequencer.Result
		var err error
		if toCompletion {
			res, err = runner.RunToCompletion(ctx, seq)
		} else {
			res, err = runner.Run(ctx, seq)
		}
		if res != nil {
			result.Device = res.Device
			result.Steps = res.Steps
		}
		return err
	})
	result.Duration = time.Since(result.StartedAt)

	switch {
	case errors.Is(err, driver.ErrWrongDevice):
		opLogger.Aborted(err)
		return result, err
	case err != nil:
		opLogger.Error(err, zap.Int("steps_applied", result.Steps))
		return result, err
	}

	opLogger.Success(zap.Int("steps_applied", result.Steps))
	return result, nil
}

// Identify opens the PSU and returns its identity without further commands
func (s *PSUService) Identify(ctx context.Context) (*driver.DeviceInfo, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var info *driver.DeviceInfo
	err := s.withDriver(ctx, s.logger.Logger, func(psu *hameg.HAMEGDriver) error {
		var err error
		info, err = psu.Identify(ctx)
		return err
	})
	return info, err
}

// Preview returns the lines a run of the named sequence would send
func (s *PSUService) Preview(name string) ([]sequencer.PreviewStep, error) {
	seq, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return sequencer.Preview(seq, s.driverConfig())
}

// Sequences lists the registered sequence names
func (s *PSUService) Sequences() []string {
	return s.registry.List()
}

// ListPorts scans the host for serial ports
func (s *PSUService) ListPorts(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	if s.scanner == nil {
		return nil, fmt.Errorf("port scanning not available")
	}
	return s.scanner.Scan(ctx)
}

func (s *PSUService) driverConfig() hameg.Config {
	return hameg.Config{
		VendorMarker:    s.config.Device.VendorMarker,
		SettleDelay:     s.config.Device.SettleDelay,
		IdentifyTimeout: s.config.Device.IdentifyTimeout,
	}
}

// withDriver opens the serial link for the duration of fn
func (s *PSUService) withDriver(ctx context.Context, logger *zap.Logger, fn func(*hameg.HAMEGDriver) error) error {
	conn := s.connect(protocol.NewSerialConfig(&s.config.Serial), logger)
	if err := conn.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("Failed to close PSU link", zap.Error(err))
		}
	}()

	psu := hameg.NewHAMEGDriver(conn, s.driverConfig(), s.clock, logger, s.config.Serial.Port)
	return fn(psu)
}
