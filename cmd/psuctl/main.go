// cmd/psuctl/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"psu-sequencer/pkg/driver"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitWrongDevice = 2
)

// Global flags
var configFile string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "psuctl",
		Short: "HAMEG PSU power sequencer",
		Long: `psuctl drives a HAMEG bench power supply over its serial interface.
It checks the device identity with *IDN? and then runs a fixed power-on or
power-off sequence of SCPI commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetHelpCommand(&cobra.Command{Hidden: true})

	flags := root.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	flags.StringP("port", "p", "", "Serial port device path (default /dev/ttyHAMEG0)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: console or json")
	flags.String("log-output", "", "Log output: stdout, stderr or a file path")

	root.AddCommand(
		newRunCommand("poweron", "Bring the PSU rails up"),
		newRunCommand("poweroff", "Shut the PSU rails down in order"),
		newIdentifyCommand(),
		newPortsCommand(),
		newSequencesCommand(),
		newServeCommand(),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()

	os.Exit(reportError(os.Stderr, err))
}

// reportError prints err for the operator and returns the process exit code
func reportError(w io.Writer, err error) int {
	if err == nil {
		return exitOK
	}

	var wrong *driver.WrongDeviceError
	if errors.As(err, &wrong) {
		fmt.Fprintln(w, wrong.Error())
		return exitWrongDevice
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return exitFailure
}
