package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agentmon/internal/app"
	"agentmon/internal/config"
	"agentmon/internal/scheduler"
)

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config, then print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			schedule := strings.TrimSpace(cfg.Monitor.Schedule)
			if schedule == "" {
				schedule = app.DefaultSchedule
			}
			spec, err := scheduler.ParseSpec(schedule)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "config ok: %s\n", *cfgPath)
			fmt.Fprintf(out, "  schedule:   %s (%s)\n", spec, spec.Kind)
			fmt.Fprintf(out, "  loki:       %s\n", onOff(cfg.Loki.Enabled))
			fmt.Fprintf(out, "  prometheus: %s\n", onOff(cfg.Prometheus.Enabled))
			fmt.Fprintf(out, "  units:      %s\n", onOff(cfg.Units.Enabled))
			fmt.Fprintf(out, "  llm:        %s\n", onOff(strings.TrimSpace(cfg.LLM.APIKey) != ""))
			fmt.Fprintf(out, "  telegram:   %d chat(s)\n", len(cfg.Telegram.ChatIDs))
			fmt.Fprintf(out, "  commands:   %s\n", onOff(cfg.Telegram.Commands.Enabled))
			fmt.Fprintf(out, "  http:       %s\n", onOff(cfg.HTTP.Enabled))
			return nil
		},
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
