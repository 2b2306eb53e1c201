package cli

import (
	"fmt"

	"github.com/harun/voxrelay/internal/daemon"
	"github.com/harun/voxrelay/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the relay server in the foreground",
	Long: `Run the relay server in the foreground until SIGINT or SIGTERM.
Tool-call webhooks, command polling, the storefront API, /health, /metrics
and /mcp are served on the configured host and port.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	return d.Wait()
}
