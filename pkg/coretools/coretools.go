package coretools

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/harun/voxrelay/pkg/catalog"
	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/harun/voxrelay/pkg/toolexecutor"
)

// Regions names the delivery area in spoken replies.
const Regions = "Ohio, Indiana, Pennsylvania, West Virginia, Kentucky, and Michigan"

// Enqueuer accepts browser commands for a call.
type Enqueuer interface {
	Enqueue(ctx context.Context, callID string, cmd commandqueue.Command) (commandqueue.Command, error)
}

// SessionStore keeps values the agent stores during a call.
type SessionStore interface {
	Set(callID, key string, value interface{}) error
	Get(callID, key string) (interface{}, bool)
	Snapshot(callID string) map[string]interface{}
}

// Options configures core tool registration.
type Options struct {
	Catalog     *catalog.Catalog
	ServiceArea *catalog.ServiceArea
	Queue       Enqueuer
	Sessions    SessionStore
}

// RegisterCoreTools registers the lookup tools and the command tools the
// voice agent drives the storefront with.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Catalog == nil {
		return errors.New("catalog is required")
	}
	if opts.ServiceArea == nil {
		return errors.New("service area is required")
	}
	if opts.Queue == nil {
		return errors.New("command queue is required")
	}
	if opts.Sessions == nil {
		return errors.New("session store is required")
	}

	tools := []toolexecutor.ToolDefinition{
		checkServiceAreaTool(opts),
		materialsByZIPTool(opts),
		materialDetailsTool(opts),
		calculateQuantityTool(),
		alternateZIPMaterialTool(opts),
		navigateTool(opts),
		prefillCheckoutTool(opts),
		updateCartTool(opts),
		updateSessionTool(opts),
		getSessionTool(opts),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// formatNumber prints 45 as "45" and 1.5 as "1.5".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
