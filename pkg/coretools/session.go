package coretools

import (
	"context"
	"fmt"

	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/harun/voxrelay/pkg/toolexecutor"
)

// CartSessionKey holds the last cart the agent sent for a call.
const CartSessionKey = "cart"

// update_session_state writes server-side when the call is known and mirrors
// the change to the browser.
func updateSessionTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "update_session_state",
		Description: "Remember a value for the rest of the call and mirror it to the browser.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "key", Type: "string", Description: "Session key", Required: true},
			{Name: "value", Type: "string|number|boolean|object|array", Description: "New value", Required: true},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			key, ok := call.String("key")
			if !ok {
				return nil, toolexecutor.Invalid("key is required")
			}
			value, _ := call.Value("value")

			stored := false
			if call.CallID != "" {
				if err := opts.Sessions.Set(call.CallID, key, value); err != nil {
					return nil, fmt.Errorf("store session value: %w", err)
				}
				stored = true
			}

			queued, err := enqueue(ctx, opts, call, commandqueue.KindUpdateSession, map[string]interface{}{
				"key":   key,
				"value": value,
			})
			if err != nil {
				return nil, err
			}
			return toolexecutor.Result{
				"success": true,
				"message": fmt.Sprintf("Session state updated: %s", key),
				"key":     key,
				"value":   value,
				"stored":  stored,
				"queued":  queued,
			}, nil
		},
	}
}

// get_session_state reads one key, or the whole state when no key is given.
// Missing values read as null.
func getSessionTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_session_state",
		Description: "Read a value stored earlier in this call with update_session_state.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "key", Type: "string", Description: "Session key; omit to read every key"},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			key, hasKey := call.String("key")

			if !hasKey {
				state := opts.Sessions.Snapshot(call.CallID)
				return toolexecutor.Result{
					"success": true,
					"state":   state,
					"message": fmt.Sprintf("%d session values stored.", len(state)),
				}, nil
			}

			value, found := opts.Sessions.Get(call.CallID, key)
			message := fmt.Sprintf("No value stored for %s.", key)
			if found {
				message = fmt.Sprintf("Session value for %s found.", key)
			}
			return toolexecutor.Result{
				"success": true,
				"key":     key,
				"value":   value,
				"found":   found,
				"message": message,
			}, nil
		},
	}
}
