// pkg/driver/interfaces.go
package driver

import (
	"context"

	"psu-sequencer/internal/model"
)

// PowerSupplyDriver is the interface the sequencer drives a PSU through
type PowerSupplyDriver interface {
	// Identify queries the identity string and checks the vendor.
	Identify(ctx context.Context) (*DeviceInfo, error)

	// Apply interprets one channel plan.
	Apply(ctx context.Context, plan model.ChannelPlan) error

	// Channel operations
	ConfigureChannel(ctx context.Context, plan model.Protected) error
	EnableChannelPassthrough(ctx context.Context, plan model.Passthrough) error
	DisableChannel(ctx context.Context, channel model.ChannelID) error
}
