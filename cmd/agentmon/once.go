package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentmon/internal/app"
)

func newOnceCmd(cfgPath *string) *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single tick and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rep, err := a.RunOnce(ctx, export)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rep.Text)
			return err
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "also deliver the report to the configured exporters")
	return cmd
}
