// internal/driver/hameg/hameg_driver.go
package hameg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"psu-sequencer/internal/model"
	"psu-sequencer/internal/protocol"
	"psu-sequencer/internal/scpi"
	"psu-sequencer/internal/utils"
	"psu-sequencer/pkg/driver"
)

// DefaultSettleDelay is waited between fuse/setpoint configuration and OUTP ON.
// It does not track the configured FUSE:DEL value.
const DefaultSettleDelay = 500 * time.Millisecond

// Config represents HAMEG driver settings
type Config struct {
	VendorMarker    string
	SettleDelay     time.Duration
	IdentifyTimeout time.Duration // zero waits until ctx is done
}

// HAMEGDriver implements driver.PowerSupplyDriver for HAMEG HMP supplies
type HAMEGDriver struct {
	config   Config
	protocol protocol.DeviceProtocol
	clock    utils.Clock
	logger   *utils.DeviceLogger
}

var _ driver.PowerSupplyDriver = (*HAMEGDriver)(nil)

// NewHAMEGDriver creates a driver on an already opened protocol
func NewHAMEGDriver(proto protocol.DeviceProtocol, config Config, clock utils.Clock, logger *zap.Logger, port string) *HAMEGDriver {
	if config.VendorMarker == "" {
		config.VendorMarker = "HAMEG"
	}
	if config.SettleDelay == 0 {
		config.SettleDelay = DefaultSettleDelay
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}

	return &HAMEGDriver{
		config:   config,
		protocol: proto,
		clock:    clock,
		logger:   utils.NewDeviceLogger(logger, port, "HMP"),
	}
}

// Identify sends *IDN? and checks the response for the vendor marker
func (d *HAMEGDriver) Identify(ctx context.Context) (*driver.DeviceInfo, error) {
	if err := d.sendCommands(ctx, scpi.Identify); err != nil {
		return nil, err
	}

	line, err := d.readResponse(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}

	matched := strings.Contains(line, d.config.VendorMarker)
	d.logger.LogIdentity(line, matched)
	if !matched {
		return nil, &driver.WrongDeviceError{Identity: line, Expected: d.config.VendorMarker}
	}

	return driver.ParseIdentity(line), nil
}

// Apply validates plan and sends the commands for its variant
func (d *HAMEGDriver) Apply(ctx context.Context, plan model.ChannelPlan) error {
	if plan == nil {
		return fmt.Errorf("nil channel plan")
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid channel plan: %w", err)
	}

	switch p := plan.(type) {
	case model.Passthrough:
		return d.EnableChannelPassthrough(ctx, p)
	case model.Protected:
		return d.ConfigureChannel(ctx, p)
	case model.Disable:
		return d.DisableChannel(ctx, p.Channel)
	default:
		return fmt.Errorf("unsupported channel plan %T", plan)
	}
}

// ConfigureChannel arms fuse protection and setpoints, waits the settle
// delay and then enables the output
func (d *HAMEGDriver) ConfigureChannel(ctx context.Context, plan model.Protected) error {
	commands := []scpi.Command{scpi.SelectInstrument(plan.Channel)}
	for _, link := range plan.FuseLinks {
		commands = append(commands, scpi.FuseLink(link))
	}
	commands = append(commands,
		scpi.FuseDelay(plan.FuseDelay),
		scpi.FuseOn,
		scpi.SourceVoltage(plan.Voltage),
		scpi.SourceCurrent(plan.Current),
	)

	if err := d.sendCommands(ctx, commands...); err != nil {
		return fmt.Errorf("channel %d: %w", plan.Channel, err)
	}

	if err := d.clock.Sleep(ctx, d.config.SettleDelay); err != nil {
		return fmt.Errorf("channel %d settle: %w", plan.Channel, err)
	}

	if err := d.sendCommands(ctx, scpi.OutputOn); err != nil {
		return fmt.Errorf("channel %d: %w", plan.Channel, err)
	}

	d.logger.Info("Channel enabled with fuse protection",
		zap.Int("channel", int(plan.Channel)),
		zap.String("voltage", plan.Voltage.String()),
		zap.String("current", plan.Current.String()),
		zap.Duration("fuse_delay", plan.FuseDelay),
	)
	return nil
}

// EnableChannelPassthrough sets the voltage and enables the output directly
func (d *HAMEGDriver) EnableChannelPassthrough(ctx context.Context, plan model.Passthrough) error {
	err := d.sendCommands(ctx,
		scpi.SelectInstrument(plan.Channel),
		scpi.SourceVoltage(plan.Voltage),
		scpi.OutputOn,
	)
	if err != nil {
		return fmt.Errorf("channel %d: %w", plan.Channel, err)
	}

	d.logger.Info("Channel enabled",
		zap.Int("channel", int(plan.Channel)),
		zap.String("voltage", plan.Voltage.String()),
	)
	return nil
}

// DisableChannel switches the output off
func (d *HAMEGDriver) DisableChannel(ctx context.Context, channel model.ChannelID) error {
	if err := d.sendCommands(ctx, scpi.SelectInstrument(channel), scpi.OutputOff); err != nil {
		return fmt.Errorf("channel %d: %w", channel, err)
	}

	d.logger.Info("Channel disabled", zap.Int("channel", int(channel)))
	return nil
}

// sendCommands writes each command as its own line
func (d *HAMEGDriver) sendCommands(ctx context.Context, commands ...scpi.Command) error {
	if d.protocol == nil {
		return fmt.Errorf("no protocol connection")
	}

	for _, cmd := range commands {
		err := d.protocol.Write(ctx, cmd.Line())
		d.logger.LogCommand(cmd.String(), err)
		if err != nil {
			return fmt.Errorf("failed to send %q: %w", cmd, err)
		}
	}

	return nil
}

// readResponse reads one response line, bounded by IdentifyTimeout when set
func (d *HAMEGDriver) readResponse(ctx context.Context) (string, error) {
	if d.protocol == nil {
		return "", fmt.Errorf("no protocol connection")
	}

	if d.config.IdentifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.IdentifyTimeout)
		defer cancel()
	}

	return d.protocol.ReadLine(ctx)
}
