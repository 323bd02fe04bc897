package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// chatAdapter speaks the OpenAI Chat Completions API.
type chatAdapter struct {
	logger *slog.Logger
}

func (a *chatAdapter) wire() WireAPI { return WireChat }
func (a *chatAdapter) path() string  { return "chat/completions" }

func (a *chatAdapter) buildRequest(p Prompt, opts RequestOptions) (*WireRequest, error) {
	if p.OutputSchema != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "output schema is not supported by the chat completions wire api",
		}}
	}

	messages := []map[string]interface{}{}
	if p.Instructions != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": p.Instructions})
	}
	messages = append(messages, chatMessages(p.Input)...)

	body := map[string]interface{}{
		"model":          opts.Model,
		"messages":       messages,
		"stream":         true,
		"stream_options": map[string]interface{}{"include_usage": true},
	}

	var tools []map[string]interface{}
	for _, t := range p.Tools {
		if t.Function.Name == "" {
			continue
		}
		tools = append(tools, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  toolParameters(t),
			},
		})
	}
	if len(tools) > 0 {
		body["tools"] = tools
		body["tool_choice"] = "auto"
		body["parallel_tool_calls"] = p.ParallelToolCalls
	}
	if opts.MaxOutputTokens > 0 {
		body["max_tokens"] = opts.MaxOutputTokens
	}
	if opts.ReasoningEffort.Enabled() {
		body["reasoning_effort"] = opts.ReasoningEffort
	}

	return &WireRequest{Body: body, Header: conversationHeaders(opts)}, nil
}

// chatMessages converts canonical items. Consecutive function calls merge
// into one assistant message with several tool_calls. Reasoning text rides
// on the next assistant message.
func chatMessages(input []ResponseItem) []map[string]interface{} {
	var (
		out       []map[string]interface{}
		calls     []map[string]interface{}
		reasoning []string
	)
	takeReasoning := func(m map[string]interface{}) {
		if len(reasoning) > 0 {
			m["reasoning"] = strings.Join(reasoning, "")
			reasoning = nil
		}
	}
	flushCalls := func() {
		if len(calls) == 0 {
			return
		}
		m := map[string]interface{}{"role": "assistant", "content": nil, "tool_calls": calls}
		takeReasoning(m)
		out = append(out, m)
		calls = nil
	}

	for _, item := range input {
		switch item.Type {
		case ItemMessage:
			if item.Message == nil {
				continue
			}
			flushCalls()
			role := string(item.Message.Role)
			switch item.Message.Role {
			case RoleUser, RoleAssistant, RoleSystem, RoleDeveloper:
			default:
				role = string(RoleUser)
			}
			m := map[string]interface{}{"role": role, "content": chatContent(item.Message.Content)}
			if item.Message.Role == RoleAssistant {
				takeReasoning(m)
			}
			out = append(out, m)

		case ItemReasoning:
			if item.Reasoning != nil {
				if text := item.Reasoning.Text(); text != "" {
					reasoning = append(reasoning, text)
				}
			}

		case ItemFunctionCall:
			if item.FunctionCall == nil {
				continue
			}
			calls = append(calls, map[string]interface{}{
				"id":   item.FunctionCall.CallID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      item.FunctionCall.Name,
					"arguments": item.FunctionCall.Arguments,
				},
			})

		case ItemFunctionCallOutput:
			if item.FunctionCallOutput == nil {
				continue
			}
			flushCalls()
			out = append(out, map[string]interface{}{
				"role":         "tool",
				"tool_call_id": item.FunctionCallOutput.CallID,
				"content":      item.FunctionCallOutput.Output.Text(),
			})
		}
	}
	flushCalls()
	return out
}

// chatContent returns a plain string unless the message carries images.
func chatContent(items []ContentItem) interface{} {
	hasImage := false
	for _, c := range items {
		if c.Type == ContentInputImage {
			hasImage = true
			break
		}
	}
	if !hasImage {
		var sb strings.Builder
		for _, c := range items {
			sb.WriteString(c.Text)
		}
		return sb.String()
	}
	parts := make([]map[string]interface{}, 0, len(items))
	for _, c := range items {
		if c.Type == ContentInputImage {
			parts = append(parts, map[string]interface{}{
				"type":      "image_url",
				"image_url": map[string]interface{}{"url": c.ImageURL},
			})
			continue
		}
		parts = append(parts, map[string]interface{}{"type": "text", "text": c.Text})
	}
	return parts
}

// chatChunk is one streamed chat.completion.chunk.
type chatChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content          *string `json:"content"`
			ReasoningContent *string `json:"reasoning_content"`
			Reasoning        *string `json:"reasoning"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int64 `json:"prompt_tokens"`
		CompletionTokens    int64 `json:"completion_tokens"`
		TotalTokens         int64 `json:"total_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
		CompletionTokensDetails *struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

type chatStream struct {
	out    eventSender
	logger *slog.Logger

	started       bool
	responseID    string
	usage         *TokenUsage
	assistant     *MessageData
	reasoning     *strings.Builder
	toolCalls     map[int]*chatToolCall
	toolCallOrder []int
	completedSent bool
}

// parseStream turns chat completion chunks into canonical events.
func (a *chatAdapter) parseStream(ctx context.Context, body io.ReadCloser, idle time.Duration, out eventSender) {
	defer out.close()
	fr := newFrameReader(body, idle)
	defer fr.close()

	s := &chatStream{out: out, logger: a.logger, toolCalls: make(map[int]*chatToolCall)}
	for {
		ev, err := fr.next(ctx, out.done)
		if err == io.EOF {
			s.complete()
			return
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				out.send(errorEvent(streamReadError(err)))
			}
			return
		}
		if ev.Event == "[DONE]" {
			s.complete()
			return
		}
		if !s.handle(ev) {
			return
		}
	}
}

func (s *chatStream) handle(ev *sseEvent) bool {
	if strings.TrimSpace(ev.Data) == "" {
		return true
	}
	var c chatChunk
	if err := json.Unmarshal([]byte(ev.Data), &c); err != nil {
		s.logger.Debug("failed to parse chat SSE chunk", "error", err, "data", ev.Data)
		return true
	}
	if c.Error != nil {
		msg := c.Error.Message
		if msg == "" {
			msg = "chat completions stream error"
		}
		s.out.send(errorEvent(&StreamError{SDKError: SDKError{Message: msg}}))
		return false
	}
	if !s.started {
		s.started = true
		if !s.out.send(createdEvent()) {
			return false
		}
	}
	if c.ID != "" {
		s.responseID = c.ID
	}
	if c.Usage != nil {
		u := &TokenUsage{
			InputTokens:  c.Usage.PromptTokens,
			OutputTokens: c.Usage.CompletionTokens,
			TotalTokens:  c.Usage.TotalTokens,
		}
		if c.Usage.PromptTokensDetails != nil {
			u.CachedInputTokens = c.Usage.PromptTokensDetails.CachedTokens
		}
		if c.Usage.CompletionTokensDetails != nil {
			u.ReasoningOutputTokens = c.Usage.CompletionTokensDetails.ReasoningTokens
		}
		s.usage = u
	}

	for _, choice := range c.Choices {
		d := choice.Delta
		reasoning := d.ReasoningContent
		if reasoning == nil {
			reasoning = d.Reasoning
		}
		if reasoning != nil && *reasoning != "" {
			if s.reasoning == nil {
				s.reasoning = &strings.Builder{}
			}
			s.reasoning.WriteString(*reasoning)
			if !s.out.send(reasoningDeltaEvent(*reasoning, 0)) {
				return false
			}
		}
		if d.Content != nil && *d.Content != "" {
			if s.assistant == nil {
				s.assistant = &MessageData{Role: RoleAssistant}
				if !s.out.send(itemAddedEvent(MessageItem(RoleAssistant))) {
					return false
				}
			}
			s.assistant.Content = append(s.assistant.Content, OutputText(*d.Content))
			if !s.out.send(textDeltaEvent(*d.Content)) {
				return false
			}
		}
		for _, tc := range d.ToolCalls {
			st, ok := s.toolCalls[tc.Index]
			if !ok {
				st = &chatToolCall{}
				s.toolCalls[tc.Index] = st
				s.toolCallOrder = append(s.toolCallOrder, tc.Index)
			}
			if tc.ID != "" {
				st.id = tc.ID
			}
			if tc.Function.Name != "" {
				st.name = tc.Function.Name
			}
			st.arguments.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == nil {
			continue
		}
		switch *choice.FinishReason {
		case "length":
			s.out.send(errorEvent(&ContextWindowExceededError{SDKError: SDKError{
				Message: "context window exceeded: response hit the length limit",
			}}))
			return false
		case "tool_calls", "function_call":
			if !s.flushReasoning() || !s.flushToolCalls() {
				return false
			}
		default:
			if !s.flushReasoning() || !s.flushAssistant() {
				return false
			}
		}
	}
	return true
}

func (s *chatStream) flushReasoning() bool {
	if s.reasoning == nil {
		return true
	}
	text := s.reasoning.String()
	s.reasoning = nil
	return s.out.send(itemDoneEvent(ReasoningItem(ReasoningData{Content: []string{text}})))
}

func (s *chatStream) flushAssistant() bool {
	if s.assistant == nil {
		return true
	}
	item := ResponseItem{Type: ItemMessage, Message: s.assistant}
	s.assistant = nil
	return s.out.send(itemDoneEvent(item))
}

// flushToolCalls emits accumulated calls in the order they first appeared.
func (s *chatStream) flushToolCalls() bool {
	if !s.flushAssistant() {
		return false
	}
	order := s.toolCallOrder
	s.toolCallOrder = nil
	for _, i := range order {
		st, ok := s.toolCalls[i]
		if !ok {
			continue
		}
		delete(s.toolCalls, i)
		if st.name == "" {
			s.logger.Debug("skipping tool call without name", "index", i)
			continue
		}
		callID := st.id
		if callID == "" {
			callID = fmt.Sprintf("tool-call-%d", i)
		}
		if !s.out.send(itemDoneEvent(FunctionCallItem(st.name, st.arguments.String(), callID))) {
			return false
		}
	}
	return true
}

// complete flushes whatever is still open and sends Completed once.
func (s *chatStream) complete() {
	if s.completedSent {
		return
	}
	if !s.flushReasoning() || !s.flushToolCalls() {
		return
	}
	s.completedSent = true
	s.out.send(completedEvent(s.responseID, s.usage))
}
