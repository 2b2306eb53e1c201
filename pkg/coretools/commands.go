package coretools

import (
	"context"
	"fmt"

	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/harun/voxrelay/pkg/toolexecutor"
)

// enqueue queues a command when the call is known. Calls without an ID are
// acknowledged but nothing is queued.
func enqueue(ctx context.Context, opts Options, call toolexecutor.Call, kind commandqueue.Kind, payload interface{}) (bool, error) {
	if call.CallID == "" {
		return false, nil
	}
	if _, err := opts.Queue.Enqueue(ctx, call.CallID, commandqueue.Command{Kind: kind, Payload: payload}); err != nil {
		return false, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return true, nil
}

func navigateTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "navigate_to",
		Description: "Navigate the user to a page on the website.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "page_slug", Type: "string", Description: "Page slug, e.g. /checkout or /products/gravel", Required: true, Aliases: []string{"page"}},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			page, ok := call.String("page_slug", "page")
			if !ok {
				return nil, toolexecutor.Invalid("page_slug is required")
			}

			queued, err := enqueue(ctx, opts, call, commandqueue.KindNavigate, page)
			if err != nil {
				return nil, err
			}
			return toolexecutor.Result{
				"success": true,
				"message": fmt.Sprintf("Navigating to %s", page),
				"queued":  queued,
			}, nil
		},
	}
}

func prefillCheckoutTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "prefill_checkout_form",
		Description: "Pre-fill the checkout form with customer details.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "fields", Type: "object", Description: "Field names and values; when omitted all arguments are used"},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			var payload interface{} = call.Arguments
			if fields, ok := call.Object("fields"); ok {
				payload = fields
			}

			queued, err := enqueue(ctx, opts, call, commandqueue.KindPrefillForm, payload)
			if err != nil {
				return nil, err
			}
			return toolexecutor.Result{
				"success": true,
				"message": "Checkout form pre-filled with customer details.",
				"queued":  queued,
			}, nil
		},
	}
}

func updateCartTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "create_or_update_cart",
		Description: "Add or update items in the customer's cart.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "items", Type: "array|object", Description: "Cart items; when omitted all arguments describe one item"},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			payload, ok := call.Value("items")
			if !ok {
				payload = call.Arguments
			}

			if call.CallID != "" {
				if err := opts.Sessions.Set(call.CallID, CartSessionKey, payload); err != nil {
					return nil, fmt.Errorf("store cart: %w", err)
				}
			}
			queued, err := enqueue(ctx, opts, call, commandqueue.KindUpdateCart, payload)
			if err != nil {
				return nil, err
			}
			return toolexecutor.Result{
				"success": true,
				"message": "Cart updated.",
				"queued":  queued,
				"cart":    call.Arguments,
			}, nil
		},
	}
}
