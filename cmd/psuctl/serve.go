// cmd/psuctl/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"psu-sequencer/internal/routes"
	"psu-sequencer/internal/utils"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the sequences over a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, app *Application) error {
			return app.Serve(cmd.Context())
		}),
	}
	cmd.Flags().String("listen", "", "HTTP port to listen on (default 8086)")
	return cmd
}

// Serve runs the HTTP server until ctx is cancelled
func (app *Application) Serve(ctx context.Context) error {
	app.config.ApplyServeDefaults()

	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStart(app.config.App.Version, app.config)

	router := routes.NewRouter(app.config, app.logger, app.service).SetupRouter()

	server := &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	serviceLogger.LogServiceStop("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	app.logger.Info("HTTP server stopped")
	return nil
}
