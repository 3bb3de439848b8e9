// cmd/psuctl/app.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"psu-sequencer/internal/config"
	discoveryserial "psu-sequencer/internal/discovery/serial"
	"psu-sequencer/internal/sequencer"
	"psu-sequencer/internal/service"
	"psu-sequencer/internal/utils"
)

// Application holds what every subcommand needs
type Application struct {
	config  *config.Config
	logger  *zap.Logger
	service *service.PSUService
}

// NewApplication loads configuration for cmd and wires the PSU service
func NewApplication(cmd *cobra.Command) (*Application, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = logger.With(zap.String("command", cmd.Name()))

	registry := sequencer.NewDefaultRegistry(logger)
	scanner := discoveryserial.NewScanner(logger, cfg.Device.VendorMarker)

	return &Application{
		config:  cfg,
		logger:  logger,
		service: service.NewPSUService(cfg, registry, scanner, nil, nil, logger),
	}, nil
}

// Close flushes the logger
func (app *Application) Close() {
	_ = utils.CloseLogger(app.logger)
}

// withApp adapts a subcommand body that needs an Application to cobra's RunE
func withApp(run func(cmd *cobra.Command, args []string, app *Application) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		return run(cmd, args, app)
	}
}
