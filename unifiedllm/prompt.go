package unifiedllm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/teilomillet/gollm"
)

// ReasoningEffort selects how much extended reasoning the model may do.
// The empty value and ReasoningNone both disable reasoning.
type ReasoningEffort string

const (
	ReasoningNone    ReasoningEffort = "none"
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
	ReasoningXHigh   ReasoningEffort = "xhigh"
)

// Enabled reports whether the effort asks for any reasoning.
func (e ReasoningEffort) Enabled() bool {
	return e != "" && e != ReasoningNone
}

// ReasoningSummary controls reasoning summaries on the Responses wire.
type ReasoningSummary string

const (
	SummaryAuto     ReasoningSummary = "auto"
	SummaryConcise  ReasoningSummary = "concise"
	SummaryDetailed ReasoningSummary = "detailed"
	SummaryNone     ReasoningSummary = "none"
)

// Verbosity controls output length on the Responses wire.
type Verbosity string

const (
	VerbosityLow    Verbosity = "low"
	VerbosityMedium Verbosity = "medium"
	VerbosityHigh   Verbosity = "high"
)

// Prompt is the canonical request: instructions, conversation items and
// tool specs. Tools use the generic {type: "function", function: {...}}
// shape; each wire adapter reshapes them.
type Prompt struct {
	Instructions      string
	Input             []ResponseItem
	Tools             []gollm.Tool
	ParallelToolCalls bool
	OutputSchema      map[string]interface{}
}

// FunctionTool creates a function tool spec.
func FunctionTool(name, description string, parameters map[string]interface{}) gollm.Tool {
	return gollm.Tool{
		Type: "function",
		Function: gollm.Function{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// StructTool creates a function tool whose parameters schema is generated
// from the fields of args, a struct or a pointer to one. Fields tagged
// validate:"required" are listed as required.
func StructTool(name, description string, args interface{}) (gollm.Tool, error) {
	t := reflect.TypeOf(args)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return gollm.Tool{}, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("tool %q: arguments must be a struct, got %T", name, args),
		}}
	}
	raw, err := gollm.GenerateJSONSchema(reflect.Zero(t).Interface())
	if err != nil {
		return gollm.Tool{}, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("tool %q: generate parameters schema", name), Cause: err,
		}}
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return gollm.Tool{}, err
	}
	return FunctionTool(name, description, params), nil
}

// RequestOptions carries per-turn settings shared by all request builders.
type RequestOptions struct {
	Model            string
	ReasoningEffort  ReasoningEffort
	ReasoningSummary ReasoningSummary
	Verbosity        Verbosity
	ConversationID   string
	Subagent         string
	MaxOutputTokens  int
	Store            bool
}

// conversationHeaders returns the correlation headers for a turn.
func conversationHeaders(opts RequestOptions) http.Header {
	h := make(http.Header)
	if opts.ConversationID != "" {
		h.Set("conversation_id", opts.ConversationID)
		h.Set("session_id", opts.ConversationID)
	}
	if opts.Subagent != "" {
		h.Set("x-openai-subagent", opts.Subagent)
	}
	return h
}

// toolParameters returns the tool's JSON schema, or an empty object schema.
func toolParameters(t gollm.Tool) interface{} {
	if t.Function.Parameters == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return t.Function.Parameters
}
