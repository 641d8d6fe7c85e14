package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentmon/internal/app"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor loop until SIGINT/SIGTERM (SIGHUP reloads the config)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(*cfgPath)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 2)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigs)

			if err := a.Start(cmd.Context()); err != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return err
			}

			reason := app.StopUnknown
		loop:
			for {
				select {
				case <-a.Done():
					reason = app.StopFatalError
					break loop
				case sig := <-sigs:
					switch sig {
					case syscall.SIGHUP:
						_ = a.Reload()
						continue
					case syscall.SIGTERM:
						reason = app.StopSIGTERM
					default:
						reason = app.StopSIGINT
					}
					break loop
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Stop(ctx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}
