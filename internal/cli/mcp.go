package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/voxrelay/internal/mcpserver"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the relay tools over MCP on stdio",
	Long: `Serve the relay tools to an MCP client over stdin and stdout.
Logs go to stderr. Page commands are queued in this process only, so
navigation and cart tools are useful for testing tool definitions.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	executor, _, cfg, err := localRegistry()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	// stdout carries the protocol
	stderr := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	log.Logger = stderr

	server, err := mcpserver.New(executor, version, stderr)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
