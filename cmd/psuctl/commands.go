// cmd/psuctl/commands.go
package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, app *Application) error {
			result, err := app.service.RunSequence(cmd.Context(), name)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d steps on %s (%s)\n",
				result.Sequence, result.Steps, result.Device.Raw, result.Duration.Round(time.Millisecond))
			return nil
		}),
	}
}

func newIdentifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "identify",
		Short: "Query *IDN? and print the identity",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, app *Application) error {
			info, err := app.service.Identify(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.Raw)
			return nil
		}),
	}
}

func newPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports, most likely PSU first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, app *Application) error {
			ports, err := app.service.ListPorts(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PORT\tVID:PID\tSERIAL\tINTERFACE\tSCORE")
			for _, p := range ports {
				ids := "-"
				if p.IsUSB {
					ids = p.VID + ":" + p.PID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\n", p.Name, ids, dash(p.SerialNumber), dash(p.Interface), p.Confidence)
			}
			return tw.Flush()
		}),
	}
}

func newSequencesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sequences [name...]",
		Short: "Print the commands each sequence sends, without touching the PSU",
		RunE: withApp(func(cmd *cobra.Command, args []string, app *Application) error {
			names := args
			if len(names) == 0 {
				names = app.service.Sequences()
			}

			out := cmd.OutOrStdout()
			for i, name := range names {
				steps, err := app.service.Preview(name)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "[%s]\n", name)
				for _, s := range steps {
					fmt.Fprintln(out, s)
				}
			}
			return nil
		}),
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
