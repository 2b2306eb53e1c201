package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/voxrelay/pkg/toolexecutor"
)

// Dialect identifies the wire shape a tool call arrived in.
type Dialect string

const (
	// DialectFlat is {tool_name|name, ...args, call_id?}; answered with {"result": ...}.
	DialectFlat Dialect = "flat"
	// DialectNested is {event:"tool_call", call_id, tool_call{...}}; answered
	// with a tool_call_result whose content is the JSON-encoded result.
	DialectNested Dialect = "nested"
	// DialectInteraction is {interaction_type:"tool_call", call_id, name, args};
	// answered with the bare result.
	DialectInteraction Dialect = "interaction"
)

// ErrInvalidArguments means a nested tool call carried arguments that are
// neither an object nor a JSON-encoded object.
var ErrInvalidArguments = errors.New("tool call arguments must be a JSON object")

// Envelope is a tool call normalized from any dialect.
type Envelope struct {
	Dialect    Dialect
	ToolName   string
	Arguments  map[string]interface{}
	CallID     string
	ToolCallID string
}

// envelopeKeys are stripped from flat-dialect arguments.
var envelopeKeys = []string{"tool_name", "name", "call_id", "conversation_id"}

// ParseEnvelope recognizes a tool call in a decoded JSON body. ok is false
// for bodies that are not tool calls; those are answered by Acknowledge
// without dispatch. A body carrying interaction_type is only ever read as the
// interaction dialect; otherwise the flat dialect wins over the nested one.
func ParseEnvelope(body interface{}) (env Envelope, ok bool, err error) {
	obj, isObj := body.(map[string]interface{})
	if !isObj {
		return Envelope{}, false, nil
	}

	callID := firstString(obj, "call_id", "conversation_id")

	if interaction, has := obj["interaction_type"].(string); has {
		if interaction != "tool_call" {
			return Envelope{}, false, nil
		}
		env = Envelope{
			Dialect:  DialectInteraction,
			ToolName: firstString(obj, "name", "tool_name"),
			CallID:   callID,
		}
		env.Arguments, err = decodeArguments(obj["args"])
		return env, true, err
	}

	if name := firstString(obj, "tool_name", "name"); name != "" {
		args := make(map[string]interface{}, len(obj))
		for k, v := range obj {
			args[k] = v
		}
		for _, k := range envelopeKeys {
			delete(args, k)
		}
		return Envelope{
			Dialect:   DialectFlat,
			ToolName:  name,
			Arguments: args,
			CallID:    callID,
		}, true, nil
	}

	if event, _ := obj["event"].(string); event != "tool_call" {
		return Envelope{}, false, nil
	}
	toolCall, isObj := obj["tool_call"].(map[string]interface{})
	if !isObj {
		return Envelope{}, false, nil
	}

	env = Envelope{
		Dialect:    DialectNested,
		ToolName:   firstString(toolCall, "name"),
		CallID:     callID,
		ToolCallID: firstString(toolCall, "tool_call_id"),
	}
	env.Arguments, err = decodeArguments(toolCall["arguments"])
	return env, true, err
}

func decodeArguments(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	case string:
		if v == "" {
			return map[string]interface{}{}, nil
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(v), &args); err != nil {
			return map[string]interface{}{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		if args == nil {
			args = map[string]interface{}{}
		}
		return args, nil
	default:
		return map[string]interface{}{}, ErrInvalidArguments
	}
}

// Acknowledge is the reply to a body that is not a tool call.
func Acknowledge(body interface{}) interface{} {
	obj, _ := body.(map[string]interface{})
	switch interaction, has := obj["interaction_type"].(string); {
	case !has:
		return map[string]bool{"received": true}
	case interaction == "call_analyzed":
		return map[string]string{"message": "Analysis received"}
	default:
		return map[string]string{"message": "Event received"}
	}
}

// Respond wraps a tool result in the dialect's response shape.
func (e Envelope) Respond(result toolexecutor.Result) (interface{}, error) {
	if e.Dialect == DialectInteraction {
		return result, nil
	}
	if e.Dialect == DialectNested {
		content, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool result: %w", err)
		}
		return map[string]interface{}{
			"type":         "tool_call_result",
			"tool_call_id": e.ToolCallID,
			"content":      string(content),
		}, nil
	}
	return map[string]interface{}{"result": result}, nil
}

func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
