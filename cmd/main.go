package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pulsebridge/internal/version"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:   "pulsebridge",
		Short: "Bridge an ADT Pulse alarm panel into Home Assistant",
		Long: `pulsebridge presents an ADT Pulse alarm panel through Home Assistant helper
entities. Alarm state and zone sensors are written to input_text and
input_boolean helpers, and arm/disarm commands are read from an input_select.

HA_URL and HA_TOKEN are read from the environment or a .env file.`,
		SilenceUsage: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Home Assistant and run the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	serve.Flags().StringVarP(&opts.ConfigDir, "config-dir", "c", "./configs", "directory holding pulse_config.yaml")
	serve.Flags().StringVar(&opts.LogLevel, "log-level", "info", "debug, info, warn or error")
	serve.Flags().BoolVar(&opts.ReadOnly, "read-only", false, "log Home Assistant writes and alarm commands instead of performing them")
	serve.Flags().BoolVar(&opts.NoAPI, "no-api", false, "do not start the HTTP API")

	root.AddCommand(serve)
	root.AddCommand(version.NewCommand())
	root.Version = version.Short()
	root.SetVersionTemplate(fmt.Sprintln(version.Full()))
	return root
}
