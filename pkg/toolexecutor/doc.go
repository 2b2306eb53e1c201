// Package toolexecutor registers and executes the tools a voice agent calls.
//
// Invariants:
//   - Tool names are unique; registering a name again replaces it.
//   - Arguments are schema-validated before the handler runs.
//   - Unknown tools and bad input are results, not errors.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
//			text, _ := call.String("text")
//			return toolexecutor.Result{"text": text}, nil
//		},
//	})
package toolexecutor
