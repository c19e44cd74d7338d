package cmd

import (
	"context"
	"fmt"
	"net"

	"prevant/internal/app"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath is the TOML configuration file to load. A missing file
// is not an error: config.Default() is used as-is.
var serveConfigPath string

// serveListenAddr is the HTTP surface's bind address.
var serveListenAddr string

// serveCmd starts the prevant server: it resolves the active
// infrastructure backend, the task queue, and the HTTP surface, then
// blocks serving requests until the process is interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prevant server",
	Long: `Starts the prevant server: loads the configured applications,
reconciles them against the active Docker or Kubernetes backend, and
exposes the apps/tasks/backups REST surface described in the API
reference.

Configuration is read from --config-path (default: ./config.toml). A
missing file is not an error; built-in defaults are used instead.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath, serveListenAddr)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx, systemdListener())
}

// systemdListener returns the first listener handed to this process via
// systemd socket activation, or nil if it wasn't started that way — in
// which case Application.Run dials cfg.ListenAddr itself.
func systemdListener() net.Listener {
	listeners, err := activation.Listeners()
	if err != nil || len(listeners) == 0 {
		return nil
	}
	return listeners[0]
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "config.toml", "Configuration file path")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", ":8860", "HTTP listen address")
}
