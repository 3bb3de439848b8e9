// Package sequencer runs the fixed PSU power sequences.
package sequencer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"psu-sequencer/internal/model"
	"psu-sequencer/internal/utils"
	"psu-sequencer/pkg/driver"
)

// ErrUnknownSequence is returned for names missing from the registry
var ErrUnknownSequence = errors.New("unknown sequence")

// Result describes a completed run
type Result struct {
	Sequence string             `json:"sequence"`
	Device   *driver.DeviceInfo `json:"device"`
	Steps    int                `json:"steps"`
}

// Runner drives one PSU through a sequence
type Runner struct {
	psu    driver.PowerSupplyDriver
	clock  utils.Clock
	logger *zap.Logger
}

// NewRunner creates a runner
func NewRunner(psu driver.PowerSupplyDriver, clock utils.Clock, logger *zap.Logger) *Runner {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Runner{psu: psu, clock: clock, logger: logger}
}

// Run checks the device identity and applies every step in order.
// Nothing after *IDN? is sent when the identity does not match. A failed
// step stops the run; steps already applied are not rolled back.
func (r *Runner) Run(ctx context.Context, seq model.Sequence) (*Result, error) {
	return r.run(ctx, ctx, seq)
}

// RunToCompletion is Run with the identity check bound by ctx. Once the
// device has answered, the steps and the final settle ignore cancellation
// of ctx so the rails are never left half switched.
func (r *Runner) RunToCompletion(ctx context.Context, seq model.Sequence) (*Result, error) {
	return r.run(ctx, context.WithoutCancel(ctx), seq)
}

func (r *Runner) run(identifyCtx, ctx context.Context, seq model.Sequence) (*Result, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}

	info, err := r.psu.Identify(identifyCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", seq.Name, err)
	}

	result := &Result{Sequence: seq.Name, Device: info}

	for i, step := range seq.Steps {
		if err := r.psu.Apply(ctx, step); err != nil {
			return result, fmt.Errorf("%s step %d: %w", seq.Name, i+1, err)
		}
		result.Steps++

		r.logger.Info("Sequence step applied",
			zap.String("sequence", seq.Name),
			zap.Int("step", i+1),
			zap.Int("of", len(seq.Steps)),
			zap.Int("channel", int(step.Target())),
			zap.Bool("output_enabled", step.OutputEnabled()),
		)
	}

	if seq.FinalSettle > 0 {
		r.logger.Debug("Final settle", zap.Duration("delay", seq.FinalSettle))
		if err := r.clock.Sleep(ctx, seq.FinalSettle); err != nil {
			return result, fmt.Errorf("%s final settle: %w", seq.Name, err)
		}
	}

	return result, nil
}
