package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/config"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, message bus and janitor",
	Long:  `Starts warden as a long-running service. The API and the message bus share the data directory, which is locked for the lifetime of the process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfigForCommand(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		components, err := runtime.NewRuntimeBuilder().
			WithContext(commandContext(cmd)).
			WithConfig(loaded).
			Build()
		if err != nil {
			return fmt.Errorf("failed to initialize runtime: %w", err)
		}
		defer components.Close()

		d, err := runtime.NewDaemon(components)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		slog.Info("Warden starting up...", "port", loaded.Server.Port, "bus_port", loaded.Bus.Port, "bus_enabled", loaded.Bus.Enabled)
		if err := d.Start(commandContext(cmd)); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}
		slog.Info("Warden stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("server.port", config.DefaultServerPort, "API server port")
	serveCmd.Flags().Int("bus.port", config.DefaultBusPort, "message bus port")
	serveCmd.Flags().Bool("bus.enabled", true, "serve the signed message bus")
}
