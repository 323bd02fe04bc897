package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// responsesAdapter speaks the OpenAI Responses API.
type responsesAdapter struct {
	logger *slog.Logger
}

func (a *responsesAdapter) wire() WireAPI { return WireResponses }
func (a *responsesAdapter) path() string  { return "responses" }

const outputSchemaName = "llmwire_output_schema"

func (a *responsesAdapter) buildRequest(p Prompt, opts RequestOptions) (*WireRequest, error) {
	input := make([]interface{}, 0, len(p.Input))
	for _, item := range p.Input {
		if v := responsesItem(item); v != nil {
			input = append(input, v)
		}
	}

	tools := make([]interface{}, 0, len(p.Tools))
	for _, t := range p.Tools {
		if t.Function.Name == "" {
			continue
		}
		tools = append(tools, map[string]interface{}{
			"type":        "function",
			"name":        t.Function.Name,
			"description": t.Function.Description,
			"parameters":  toolParameters(t),
			"strict":      false,
		})
	}

	body := map[string]interface{}{
		"model":               opts.Model,
		"instructions":        p.Instructions,
		"input":               input,
		"tools":               tools,
		"tool_choice":         "auto",
		"parallel_tool_calls": p.ParallelToolCalls,
		"store":               opts.Store,
		"stream":              true,
		"include":             []string{},
	}
	if opts.ConversationID != "" {
		body["prompt_cache_key"] = opts.ConversationID
	}
	if opts.ReasoningEffort.Enabled() {
		reasoning := map[string]interface{}{"effort": opts.ReasoningEffort}
		if opts.ReasoningSummary != "" && opts.ReasoningSummary != SummaryNone {
			reasoning["summary"] = opts.ReasoningSummary
		}
		body["reasoning"] = reasoning
		body["include"] = []string{"reasoning.encrypted_content"}
	}
	if opts.MaxOutputTokens > 0 {
		body["max_output_tokens"] = opts.MaxOutputTokens
	}

	text := map[string]interface{}{}
	if opts.Verbosity != "" {
		text["verbosity"] = opts.Verbosity
	}
	if p.OutputSchema != nil {
		if err := validateOutputSchema(p.OutputSchema); err != nil {
			return nil, err
		}
		text["format"] = map[string]interface{}{
			"type":   "json_schema",
			"strict": true,
			"name":   outputSchemaName,
			"schema": p.OutputSchema,
		}
	}
	if len(text) > 0 {
		body["text"] = text
	}

	return &WireRequest{Body: body, Header: conversationHeaders(opts)}, nil
}

// validateOutputSchema rejects schemas that do not compile.
func validateOutputSchema(schema map[string]interface{}) error {
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return &ConfigurationError{SDKError: SDKError{Message: "invalid output schema", Cause: err}}
	}
	return nil
}

// responsesItem renders one canonical item in Responses input format.
func responsesItem(item ResponseItem) interface{} {
	switch item.Type {
	case ItemMessage:
		if item.Message == nil {
			return nil
		}
		content := make([]interface{}, 0, len(item.Message.Content))
		for _, c := range item.Message.Content {
			switch c.Type {
			case ContentInputImage:
				content = append(content, map[string]interface{}{"type": "input_image", "image_url": c.ImageURL})
			default:
				content = append(content, map[string]interface{}{"type": string(c.Type), "text": c.Text})
			}
		}
		m := map[string]interface{}{"type": "message", "role": item.Message.Role, "content": content}
		if item.Message.ID != "" {
			m["id"] = item.Message.ID
		}
		return m

	case ItemReasoning:
		r := item.Reasoning
		// Anthropic thinking blocks cannot be replayed on this wire.
		if r == nil || r.ThinkingSignature != "" {
			return nil
		}
		summary := make([]interface{}, 0, len(r.Summary))
		for _, s := range r.Summary {
			summary = append(summary, map[string]interface{}{"type": "summary_text", "text": s})
		}
		m := map[string]interface{}{"type": "reasoning", "summary": summary}
		if r.ID != "" {
			m["id"] = r.ID
		}
		if r.EncryptedContent != "" {
			m["encrypted_content"] = r.EncryptedContent
		}
		return m

	case ItemFunctionCall:
		if item.FunctionCall == nil {
			return nil
		}
		return map[string]interface{}{
			"type":      "function_call",
			"name":      item.FunctionCall.Name,
			"arguments": item.FunctionCall.Arguments,
			"call_id":   item.FunctionCall.CallID,
		}

	case ItemFunctionCallOutput:
		if item.FunctionCallOutput == nil {
			return nil
		}
		out := item.FunctionCallOutput.Output
		var output interface{} = out.Content
		if len(out.ContentItems) > 0 {
			parts := make([]interface{}, 0, len(out.ContentItems))
			for _, c := range out.ContentItems {
				if c.Type == ContentInputImage {
					parts = append(parts, map[string]interface{}{"type": "input_image", "image_url": c.ImageURL})
				} else {
					parts = append(parts, map[string]interface{}{"type": "input_text", "text": c.Text})
				}
			}
			output = parts
		}
		return map[string]interface{}{
			"type":    "function_call_output",
			"call_id": item.FunctionCallOutput.CallID,
			"output":  output,
		}

	default:
		if len(item.Raw) == 0 {
			return nil
		}
		return item.Raw
	}
}

// responsesFrame is the subset of Responses stream events we read.
type responsesFrame struct {
	Type         string          `json:"type"`
	Delta        string          `json:"delta"`
	ContentIndex int             `json:"content_index"`
	SummaryIndex int             `json:"summary_index"`
	Item         json.RawMessage `json:"item"`
	Response     *struct {
		ID    string          `json:"id"`
		Usage *responsesUsage `json:"usage"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		IncompleteDetails *struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
	} `json:"response"`
}

type responsesUsage struct {
	InputTokens        int64 `json:"input_tokens"`
	InputTokensDetails *struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"input_tokens_details"`
	OutputTokens        int64 `json:"output_tokens"`
	OutputTokensDetails *struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
	TotalTokens int64 `json:"total_tokens"`
}

func (u *responsesUsage) tokenUsage() *TokenUsage {
	if u == nil {
		return nil
	}
	t := &TokenUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
	if u.InputTokensDetails != nil {
		t.CachedInputTokens = u.InputTokensDetails.CachedTokens
	}
	if u.OutputTokensDetails != nil {
		t.ReasoningOutputTokens = u.OutputTokensDetails.ReasoningTokens
	}
	return t
}

// parseStream turns a Responses event stream into canonical events. The
// stream must end with response.completed; anything else is an error.
func (a *responsesAdapter) parseStream(ctx context.Context, body io.ReadCloser, idle time.Duration, out eventSender) {
	defer out.close()
	fr := newFrameReader(body, idle)
	defer fr.close()

	for {
		ev, err := fr.next(ctx, out.done)
		if err == io.EOF {
			out.send(errorEvent(&StreamError{SDKError: SDKError{Message: "stream closed before response.completed"}}))
			return
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				out.send(errorEvent(streamReadError(err)))
			}
			return
		}
		if strings.TrimSpace(ev.Data) == "" || ev.Event == "[DONE]" {
			continue
		}

		var f responsesFrame
		if err := json.Unmarshal([]byte(ev.Data), &f); err != nil {
			a.logger.Debug("failed to parse responses SSE event", "error", err, "data", ev.Data)
			continue
		}
		if f.Type == "" {
			f.Type = ev.Event
		}

		var next ResponseEvent
		switch f.Type {
		case "response.created":
			next = createdEvent()
		case "response.output_item.added":
			item, ok := parseResponsesItem(f.Item)
			if !ok {
				continue
			}
			next = itemAddedEvent(item)
		case "response.output_item.done":
			item, ok := parseResponsesItem(f.Item)
			if !ok {
				a.logger.Debug("failed to parse output item", "item", string(f.Item))
				continue
			}
			next = itemDoneEvent(item)
		case "response.output_text.delta":
			next = textDeltaEvent(f.Delta)
		case "response.reasoning_text.delta":
			next = reasoningDeltaEvent(f.Delta, f.ContentIndex)
		case "response.reasoning_summary_text.delta":
			next = ResponseEvent{Type: EventReasoningSummaryDelta, Delta: f.Delta, ContentIndex: f.SummaryIndex}
		case "response.completed":
			if f.Response == nil {
				out.send(errorEvent(&StreamError{SDKError: SDKError{Message: "response.completed without response"}}))
				return
			}
			out.send(completedEvent(f.Response.ID, f.Response.Usage.tokenUsage()))
			return
		case "response.failed":
			out.send(errorEvent(responseFailedError(f)))
			return
		case "response.incomplete":
			reason := "unknown"
			if f.Response != nil && f.Response.IncompleteDetails != nil && f.Response.IncompleteDetails.Reason != "" {
				reason = f.Response.IncompleteDetails.Reason
			}
			out.send(errorEvent(&StreamError{SDKError: SDKError{Message: "incomplete response returned, reason: " + reason}}))
			return
		default:
			a.logger.Debug("unhandled responses event", "type", f.Type)
			continue
		}
		if !out.send(next) {
			return
		}
	}
}

var retryAfterPattern = regexp.MustCompile(`(?i)try again in\s*(\d+(?:\.\d+)?)\s*(s|ms|seconds?)`)

// responseFailedError maps a response.failed payload to the taxonomy.
func responseFailedError(f responsesFrame) error {
	if f.Response == nil || f.Response.Error == nil {
		return &RetryableError{SDKError: SDKError{Message: "response.failed event received"}}
	}
	e := f.Response.Error
	switch e.Code {
	case "context_length_exceeded":
		return &ContextWindowExceededError{SDKError: SDKError{Message: e.Message}}
	case "insufficient_quota":
		return &QuotaExceededError{SDKError: SDKError{Message: e.Message}}
	case "usage_not_included":
		return &UsageNotIncludedError{SDKError: SDKError{Message: e.Message}}
	}
	return &RetryableError{SDKError: SDKError{Message: e.Message}, Delay: retryDelayFromMessage(e.Message)}
}

func retryDelayFromMessage(msg string) *time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	var d time.Duration
	if strings.EqualFold(m[2], "ms") {
		d = time.Duration(v * float64(time.Millisecond))
	} else {
		d = time.Duration(v * float64(time.Second))
	}
	return &d
}

// responsesOutputItem is the union of Responses output item shapes.
type responsesOutputItem struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL string `json:"image_url"`
	} `json:"content"`
	Summary []struct {
		Text string `json:"text"`
	} `json:"summary"`
	EncryptedContent string `json:"encrypted_content"`
	Name             string `json:"name"`
	Arguments        string `json:"arguments"`
	CallID           string `json:"call_id"`
}

// parseResponsesItem decodes an output item. Unknown types are kept raw.
func parseResponsesItem(raw json.RawMessage) (ResponseItem, bool) {
	if len(raw) == 0 {
		return ResponseItem{}, false
	}
	var it responsesOutputItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return ResponseItem{}, false
	}
	switch ItemType(it.Type) {
	case ItemMessage:
		msg := &MessageData{ID: it.ID, Role: Role(it.Role)}
		for _, c := range it.Content {
			switch ContentType(c.Type) {
			case ContentInputImage:
				msg.Content = append(msg.Content, InputImage(c.ImageURL))
			case ContentInputText:
				msg.Content = append(msg.Content, InputText(c.Text))
			default:
				msg.Content = append(msg.Content, OutputText(c.Text))
			}
		}
		return ResponseItem{Type: ItemMessage, Message: msg}, true
	case ItemReasoning:
		r := ReasoningData{ID: it.ID, EncryptedContent: it.EncryptedContent}
		for _, s := range it.Summary {
			r.Summary = append(r.Summary, s.Text)
		}
		for _, c := range it.Content {
			r.Content = append(r.Content, c.Text)
		}
		return ReasoningItem(r), true
	case ItemFunctionCall:
		item := FunctionCallItem(it.Name, it.Arguments, it.CallID)
		item.FunctionCall.ID = it.ID
		return item, true
	case ItemWebSearchCall, ItemCustomToolCall, ItemCustomToolCallOutput, ItemLocalShellCall:
		return ResponseItem{Type: ItemType(it.Type), Raw: append(json.RawMessage(nil), raw...)}, true
	default:
		return ResponseItem{Type: ItemOther, Raw: append(json.RawMessage(nil), raw...)}, true
	}
}

// String renders a short description of the item, for logs.
func (i ResponseItem) String() string {
	switch i.Type {
	case ItemMessage:
		if i.Message != nil {
			return fmt.Sprintf("message(%s): %q", i.Message.Role, i.Message.Text())
		}
	case ItemFunctionCall:
		if i.FunctionCall != nil {
			return fmt.Sprintf("function_call(%s %s)", i.FunctionCall.Name, i.FunctionCall.CallID)
		}
	case ItemFunctionCallOutput:
		if i.FunctionCallOutput != nil {
			return fmt.Sprintf("function_call_output(%s)", i.FunctionCallOutput.CallID)
		}
	}
	return string(i.Type)
}
