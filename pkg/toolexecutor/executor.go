package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeout bounds a single tool handler run.
const DefaultTimeout = 10 * time.Second

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name string `json:"name"`
	// Type is a JSON Schema type; alternatives are joined with "|", e.g. "number|string".
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Aliases     []string `json:"aliases,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	Timeout     time.Duration   `json:"-"`
}

// Call is one normalized tool invocation, whatever transport it came from.
type Call struct {
	Name      string
	Arguments map[string]interface{}
	// CallID identifies the voice conversation. It may be empty.
	CallID string
}

// Result is the structured answer returned to the voice platform.
type Result map[string]interface{}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, call Call) (Result, error)

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools          map[string]*ToolDefinition
	schemas        map[string]*gojsonschema.Schema
	rawSchemas     map[string]map[string]interface{}
	defaultTimeout time.Duration
	mu             sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	observability.EnsureRegistered()

	return &ToolExecutor{
		tools:          make(map[string]*ToolDefinition),
		schemas:        make(map[string]*gojsonschema.Schema),
		rawSchemas:     make(map[string]map[string]interface{}),
		defaultTimeout: DefaultTimeout,
	}
}

// SetDefaultTimeout changes the timeout used by tools that do not set one.
func (te *ToolExecutor) SetDefaultTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	te.mu.Lock()
	te.defaultTimeout = timeout
	te.mu.Unlock()
}

// RegisterTool validates def, compiles its argument schema and stores it.
// Registering an existing name replaces it.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	raw := buildSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.rawSchemas[def.Name] = raw

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool by name.
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
	delete(te.rawSchemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names in sorted order.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Definitions returns copies of all tool definitions sorted by name.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Schema returns the JSON Schema generated for a tool's arguments.
func (te *ToolExecutor) Schema(name string) (map[string]interface{}, bool) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	s, ok := te.rawSchemas[name]
	return s, ok
}

// Execute dispatches call to its handler.
//
// Unknown tools and invalid arguments come back as failure results with a nil
// error. A non-nil error means the handler failed unexpectedly (error, panic
// or timeout) and the caller should answer with a server error.
func (te *ToolExecutor) Execute(ctx context.Context, call Call) (Result, error) {
	startTime := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if call.Arguments == nil {
		call.Arguments = map[string]interface{}{}
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"toolexecutor.execute",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.CallID),
	)
	defer span.End()

	ctx = tracing.WithCallID(tracing.WithTool(ctx, call.Name), call.CallID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	te.mu.RLock()
	tool := te.tools[call.Name]
	schema := te.schemas[call.Name]
	timeout := te.defaultTimeout
	te.mu.RUnlock()

	if tool == nil {
		logger.Warn().Msg("Unknown tool requested")
		observability.RecordToolExecution("unknown", time.Since(startTime), false)
		return UnknownTool(call.Name), nil
	}

	if err := validateArguments(schema, call.Arguments); err != nil {
		logger.Info().Err(err).Msg("Tool arguments rejected")
		observability.RecordToolExecution(call.Name, time.Since(startTime), false)
		return ValidationFailed(err.Error()), nil
	}

	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, r)}
			}
		}()
		result, err := tool.Handler(timeoutCtx, call)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-timeoutCtx.Done():
		out = outcome{err: fmt.Errorf("tool %s timed out after %v: %w", call.Name, timeout, timeoutCtx.Err())}
	}

	duration := time.Since(startTime)

	if out.err != nil {
		var ve *ValidationError
		if errors.As(out.err, &ve) {
			logger.Info().Str("reason", ve.Message).Msg("Tool input invalid")
			observability.RecordToolExecution(call.Name, duration, false)
			return ValidationFailed(ve.Message), nil
		}

		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		logger.Error().Err(out.err).Dur("duration", duration).Msg("Tool execution failed")
		observability.RecordToolExecution(call.Name, duration, false)
		observability.RecordToolAudit(ctx, call.Name, call.CallID, false, duration)
		return nil, out.err
	}

	if out.result == nil {
		out.result = Result{"success": true}
	}

	logger.Debug().Dur("duration", duration).Msg("Tool execution completed")
	observability.RecordToolExecution(call.Name, duration, !out.result.Failed())
	observability.RecordToolAudit(ctx, call.Name, call.CallID, !out.result.Failed(), duration)

	return out.result, nil
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	seen := map[string]bool{}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		for _, t := range splitTypes(param.Type) {
			if !validTypes[t] {
				return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
			}
		}
		for _, name := range append([]string{param.Name}, param.Aliases...) {
			if seen[name] {
				return fmt.Errorf("duplicate parameter name %s", name)
			}
			seen[name] = true
		}
	}

	return nil
}

func splitTypes(t string) []string {
	if t == "" {
		return []string{""}
	}
	return strings.Split(t, "|")
}

// buildSchema turns the parameter list into a JSON Schema object. Aliases
// get their own properties and satisfy a requirement through anyOf.
// Unknown properties are allowed because voice platforms add their own.
func buildSchema(def ToolDefinition) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}
	allOf := []interface{}{}

	for _, param := range def.Parameters {
		types := splitTypes(param.Type)
		var typeValue interface{} = types[0]
		if len(types) > 1 {
			typeValue = types
		}

		names := append([]string{param.Name}, param.Aliases...)
		for _, name := range names {
			properties[name] = map[string]interface{}{
				"type":        typeValue,
				"description": param.Description,
			}
		}

		if !param.Required {
			continue
		}
		if len(names) == 1 {
			required = append(required, param.Name)
			continue
		}
		anyOf := make([]interface{}, 0, len(names))
		for _, name := range names {
			anyOf = append(anyOf, map[string]interface{}{"required": []string{name}})
		}
		allOf = append(allOf, map[string]interface{}{"anyOf": anyOf})
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": true,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	if len(allOf) > 0 {
		schema["allOf"] = allOf
	}
	return schema
}

func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			if msg := describeSchemaError(e); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		if len(msgs) == 0 {
			return errors.New("invalid arguments")
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	return nil
}

// describeSchemaError turns a schema failure into a phrase a voice agent can
// relay. Combinator summaries return "" since their branch errors are also
// reported.
func describeSchemaError(e gojsonschema.ResultError) string {
	switch e.Type() {
	case "required":
		if p, ok := e.Details()["property"]; ok {
			return fmt.Sprintf("%v is required", p)
		}
	case "number_any_of", "number_all_of":
		return ""
	case "invalid_type":
		return fmt.Sprintf("%s must be %v", e.Field(), e.Details()["expected"])
	}
	return e.String()
}
