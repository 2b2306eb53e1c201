package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/catalog"
	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/harun/voxrelay/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

// Paths the voice platforms are configured with. All three accept both
// dialects.
var (
	ToolCallPaths = []string{"/api/webhook", "/api/elevenlabs/webhook", "/api/retell/webhook"}
	PollPaths     = []string{"/api/commands", "/api/elevenlabs/commands", "/api/retell/commands"}
)

// ToolDispatcher executes a normalized tool call.
type ToolDispatcher interface {
	Execute(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error)
}

// CommandDrainer hands out the pending commands of a call.
type CommandDrainer interface {
	Drain(ctx context.Context, callID string) []commandqueue.Command
}

// RouteOptions wires the relay routes to their backends.
type RouteOptions struct {
	Dispatcher     ToolDispatcher
	Queue          CommandDrainer
	Catalog        *catalog.Catalog
	ServiceArea    *catalog.ServiceArea
	Registrar      CallRegistrar // optional; register-call is not served without it
	AllowedOrigins []string
}

// RegisterRoutes registers the tool-call, poll and storefront routes.
func (s *Server) RegisterRoutes(opts RouteOptions) error {
	if opts.Dispatcher == nil {
		return errors.New("tool dispatcher is required")
	}
	if opts.Queue == nil {
		return errors.New("command queue is required")
	}
	if opts.Catalog == nil || opts.ServiceArea == nil {
		return errors.New("catalog and service area are required")
	}

	configs := make([]WebhookConfig, 0, 12)
	for _, path := range ToolCallPaths {
		configs = append(configs, CreateToolCallHandler(path, opts.Dispatcher))
	}
	for _, path := range PollPaths {
		configs = append(configs, CreatePollHandler(path, opts.Queue, opts.AllowedOrigins))
	}
	configs = append(configs,
		CreateMaterialsHandler(opts.Catalog, opts.ServiceArea),
		CreateMaterialHandler(opts.Catalog),
		CreateCartHandler(opts.Catalog),
	)
	configs = append(configs, CreateCheckoutPrefillHandlers()...)
	if opts.Registrar != nil {
		configs = append(configs, CreateRegisterCallHandler(opts.Registrar))
	}

	for _, config := range configs {
		if err := s.RegisterWebhook(config); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", config.Method, config.Path, err)
		}
	}
	return nil
}

// CreateToolCallHandler creates the voice-platform tool-call webhook.
// Dispatcher errors surface as 500 through the server pipeline.
func CreateToolCallHandler(path string, dispatcher ToolDispatcher) WebhookConfig {
	return WebhookConfig{
		Path:        path,
		Method:      http.MethodPost,
		Timeout:     30 * time.Second,
		Description: "Voice agent tool calls (flat, nested and interaction dialects)",
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			if params.Body == nil {
				return jsonError(http.StatusBadRequest, "Invalid JSON body"), nil
			}

			env, ok, err := ParseEnvelope(params.Body)
			if !ok {
				return jsonOK(Acknowledge(params.Body)), nil
			}

			ctx := tracing.WithCallID(params.Context, env.CallID)
			logger := tracing.LoggerFromContext(ctx, log.Logger)
			logger.Info().
				Str("tool", env.ToolName).
				Str("dialect", string(env.Dialect)).
				Msg("Tool call received")

			var result toolexecutor.Result
			if err != nil {
				result = toolexecutor.ValidationFailed(err.Error())
			} else {
				result, err = dispatcher.Execute(ctx, toolexecutor.Call{
					Name:      env.ToolName,
					Arguments: env.Arguments,
					CallID:    env.CallID,
				})
				if err != nil {
					return WebhookResponse{}, err
				}
			}

			body, err := env.Respond(result)
			if err != nil {
				return WebhookResponse{}, err
			}
			return jsonOK(body), nil
		},
	}
}

// CreatePollHandler creates the endpoint the browser polls for commands.
// A missing call_id is answered with an empty list.
func CreatePollHandler(path string, queue CommandDrainer, allowedOrigins []string) WebhookConfig {
	return WebhookConfig{
		Path:          path,
		Method:        http.MethodGet,
		Timeout:       5 * time.Second,
		Description:   "Drain pending browser commands for a call",
		SkipRateLimit: true,
		CORS:          PollCORS(allowedOrigins),
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			callID := params.Query["call_id"]
			if callID == "" {
				return jsonOK(map[string]interface{}{"commands": []commandqueue.Command{}}), nil
			}

			commands := queue.Drain(params.Context, callID)
			return jsonOK(map[string]interface{}{"commands": commands}), nil
		},
	}
}

// CreateCustomHandler creates a custom route
func CreateCustomHandler(path string, method string, handler WebhookHandler, options ...func(*WebhookConfig)) WebhookConfig {
	config := WebhookConfig{
		Path:    path,
		Method:  method,
		Handler: handler,
		Timeout: 30 * time.Second,
	}

	for _, opt := range options {
		opt(&config)
	}

	return config
}

// WithTimeout sets the handler timeout
func WithTimeout(timeout time.Duration) func(*WebhookConfig) {
	return func(config *WebhookConfig) {
		config.Timeout = timeout
	}
}

// WithDescription sets the route description
func WithDescription(description string) func(*WebhookConfig) {
	return func(config *WebhookConfig) {
		config.Description = description
	}
}

// WithCORS attaches a CORS policy
func WithCORS(policy *CORSPolicy) func(*WebhookConfig) {
	return func(config *WebhookConfig) {
		config.CORS = policy
	}
}
