package main

import "github.com/spf13/cobra"

// version is set at build time: -ldflags "-X main.version=v1.2.3".
var version = "dev"

func newRootCmd() *cobra.Command {
	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           "agentmon",
		Short:         "Periodic observability reports from Loki, Prometheus and systemd, summarized by an LLM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (.json, .yaml or .yml)")

	rootCmd.AddCommand(
		newServeCmd(&cfgPath),
		newOnceCmd(&cfgPath),
		newValidateCmd(&cfgPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}
