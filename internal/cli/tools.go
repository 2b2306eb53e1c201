package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/harun/voxrelay/internal/config"
	"github.com/harun/voxrelay/internal/daemon"
	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/harun/voxrelay/pkg/session"
	"github.com/harun/voxrelay/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var (
	toolArgs   string
	toolCallID string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and run relay tools locally",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	Args:  cobra.NoArgs,
	RunE:  runToolsList,
}

var toolsSchemaCmd = &cobra.Command{
	Use:   "schema [name]",
	Short: "Print tool JSON schemas for voice-platform setup",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runToolsSchema,
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <name>",
	Short: "Run a tool locally and print its result",
	Long: `Run a tool against the configured catalog without a server. Page commands
the tool queues for --call-id are printed with the result.`,
	Args: cobra.ExactArgs(1),
	RunE: runToolsCall,
}

func init() {
	toolsCallCmd.Flags().StringVar(&toolArgs, "args", "{}", "tool arguments as a JSON object")
	toolsCallCmd.Flags().StringVar(&toolCallID, "call-id", "cli", "call ID page commands are queued under")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsSchemaCmd)
	toolsCmd.AddCommand(toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}

// localRegistry builds the tool registry the server would use.
func localRegistry() (*toolexecutor.ToolExecutor, *commandqueue.CommandQueue, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	cat, area, err := daemon.LoadData(cfg.Catalog)
	if err != nil {
		return nil, nil, nil, err
	}
	queue := commandqueue.New()
	executor, err := daemon.NewToolRegistry(cfg.Server, cat, area, queue, session.NewStore())
	if err != nil {
		return nil, nil, nil, err
	}
	return executor, queue, cfg, nil
}

func runToolsList(cmd *cobra.Command, args []string) error {
	executor, _, _, err := localRegistry()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, def := range executor.Definitions() {
		fmt.Fprintf(out, "%-24s %s\n", def.Name, def.Description)
	}
	return nil
}

type toolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func runToolsSchema(cmd *cobra.Command, args []string) error {
	executor, _, _, err := localRegistry()
	if err != nil {
		return err
	}

	var schemas []toolSchema
	for _, def := range executor.Definitions() {
		if len(args) == 1 && def.Name != args[0] {
			continue
		}
		params, _ := executor.Schema(def.Name)
		schemas = append(schemas, toolSchema{Name: def.Name, Description: def.Description, Parameters: params})
	}

	if len(args) == 1 {
		if len(schemas) == 0 {
			return fmt.Errorf("unknown tool %q", args[0])
		}
		return writeJSON(cmd.OutOrStdout(), schemas[0])
	}
	return writeJSON(cmd.OutOrStdout(), schemas)
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	var arguments map[string]interface{}
	if err := json.Unmarshal([]byte(toolArgs), &arguments); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	executor, queue, _, err := localRegistry()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := executor.Execute(ctx, toolexecutor.Call{
		Name:      args[0],
		Arguments: arguments,
		CallID:    toolCallID,
	})
	if err != nil {
		return fmt.Errorf("tool %s failed: %w", args[0], err)
	}

	return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
		"result":   result,
		"commands": queue.Drain(ctx, toolCallID),
	})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
