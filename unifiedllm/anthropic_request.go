package unifiedllm

import (
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	// anthropicDefaultMaxTokens is the response cap without extended thinking.
	anthropicDefaultMaxTokens = 8192
	// anthropicResponseBuffer is reserved for the visible answer on top of the
	// thinking budget.
	anthropicResponseBuffer = 16000
	anthropicVersion        = "2023-06-01"
)

// thinkingBudget maps an effort to the Anthropic budget_tokens value. The
// second result is false when thinking is disabled.
func thinkingBudget(effort ReasoningEffort) (int, bool) {
	switch effort {
	case ReasoningMinimal:
		return 4000, true
	case ReasoningLow:
		return 8000, true
	case ReasoningMedium:
		return 16000, true
	case ReasoningHigh:
		return 32000, true
	case ReasoningXHigh:
		return 48000, true
	default:
		return 0, false
	}
}

type block = map[string]interface{}

// anthropicMessages assembles the messages array. The vendor requires every
// tool_use to be answered by a tool_result in the very next message, so
// consecutive calls and outputs are batched and any plain message that
// arrives between them is deferred until the results are written.
type anthropicMessages struct {
	thinking bool
	logger   *slog.Logger

	messages        []block
	pendingUses     []block
	pendingResults  []block
	deferred        []block
	pendingThinking []block
}

func (m *anthropicMessages) flushToolUses() {
	if len(m.pendingUses) == 0 {
		return
	}
	var content []block
	if m.thinking {
		if len(m.pendingThinking) > 0 {
			content = append(content, m.pendingThinking...)
		} else {
			m.logger.Debug("missing signed thinking block before tool_use")
		}
	}
	m.pendingThinking = nil
	content = append(content, m.pendingUses...)
	m.pendingUses = nil
	m.messages = append(m.messages, block{"role": "assistant", "content": content})
}

func (m *anthropicMessages) flushToolResults() {
	if len(m.pendingResults) == 0 {
		return
	}
	m.messages = append(m.messages, block{"role": "user", "content": m.pendingResults})
	m.pendingResults = nil
}

func (m *anthropicMessages) flushDeferred() {
	m.messages = append(m.messages, m.deferred...)
	m.deferred = nil
}

func (m *anthropicMessages) flushThinkingOnly() {
	if m.thinking && len(m.pendingThinking) > 0 {
		m.messages = append(m.messages, block{"role": "assistant", "content": m.pendingThinking})
	}
	m.pendingThinking = nil
}

func (m *anthropicMessages) flushPending() {
	m.flushToolUses()
	m.flushToolResults()
	m.flushDeferred()
}

func (m *anthropicMessages) addReasoning(r *ReasoningData) {
	if !m.thinking || r.ThinkingSignature == "" {
		return
	}
	text := r.Text()

	var redacted bool
	switch r.ThinkingBlockType {
	case "redacted_thinking":
		redacted = true
	case "thinking":
		redacted = false
	case "":
		redacted = text == "" && r.EncryptedContent != ""
	default:
		m.logger.Debug("skipping signed thinking block with unknown type", "block_type", r.ThinkingBlockType)
		return
	}

	if redacted {
		if r.EncryptedContent == "" {
			m.logger.Debug("skipping redacted thinking block without encrypted content")
			return
		}
		m.pendingThinking = append(m.pendingThinking, block{
			"type":      "redacted_thinking",
			"data":      r.EncryptedContent,
			"signature": r.ThinkingSignature,
		})
		return
	}
	if text == "" {
		m.logger.Debug("skipping signed thinking block without reasoning text")
		return
	}
	m.pendingThinking = append(m.pendingThinking, block{
		"type":      "thinking",
		"thinking":  text,
		"signature": r.ThinkingSignature,
	})
}

func (m *anthropicMessages) addMessage(msg *MessageData) {
	content := anthropicContent(msg.Content)
	if len(content) == 0 {
		return
	}

	var role string
	switch msg.Role {
	case RoleUser:
		role = "user"
	case RoleAssistant:
		role = "assistant"
	case RoleSystem:
		return
	default:
		role = "user"
	}

	if len(m.pendingUses) > 0 && len(m.pendingResults) == 0 {
		m.deferred = append(m.deferred, block{"role": role, "content": content})
		return
	}
	m.flushPending()

	if role == "assistant" {
		if m.thinking && len(m.pendingThinking) > 0 {
			content = append(m.pendingThinking, content...)
		}
		m.pendingThinking = nil
		m.messages = append(m.messages, block{"role": role, "content": content})
		return
	}
	m.flushThinkingOnly()
	m.messages = append(m.messages, block{"role": role, "content": content})
}

func (m *anthropicMessages) addFunctionCall(call *FunctionCallData) {
	if len(m.pendingResults) > 0 {
		m.flushPending()
	}
	var input interface{}
	if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil || input == nil {
		input = map[string]interface{}{}
	}
	m.pendingUses = append(m.pendingUses, block{
		"type":  "tool_use",
		"id":    call.CallID,
		"name":  call.Name,
		"input": input,
	})
}

func (m *anthropicMessages) addFunctionCallOutput(out *FunctionCallOutputData) {
	m.flushToolUses()
	m.pendingResults = append(m.pendingResults, block{
		"type":        "tool_result",
		"tool_use_id": out.CallID,
		"content":     toolResultContent(out.Output),
	})
}

func (m *anthropicMessages) finish() []block {
	m.flushPending()
	m.flushThinkingOnly()
	if m.messages == nil {
		return []block{}
	}
	return m.messages
}

// buildAnthropicMessages converts canonical items into the vendor messages
// array. A function call is only emitted when some function call output in
// the input answers it.
func buildAnthropicMessages(input []ResponseItem, thinking bool, logger *slog.Logger) []block {
	answered := make(map[string]bool)
	for _, item := range input {
		if item.Type == ItemFunctionCallOutput && item.FunctionCallOutput != nil {
			answered[item.FunctionCallOutput.CallID] = true
		}
	}

	m := &anthropicMessages{thinking: thinking, logger: logger}
	for _, item := range input {
		switch {
		case item.Type == ItemReasoning && item.Reasoning != nil:
			m.addReasoning(item.Reasoning)
		case item.Type == ItemMessage && item.Message != nil:
			m.addMessage(item.Message)
		case item.Type == ItemFunctionCall && item.FunctionCall != nil:
			if !answered[item.FunctionCall.CallID] {
				logger.Debug("skipping tool_use without corresponding tool_result",
					"call_id", item.FunctionCall.CallID, "name", item.FunctionCall.Name)
				continue
			}
			m.addFunctionCall(item.FunctionCall)
		case item.Type == ItemFunctionCallOutput && item.FunctionCallOutput != nil:
			m.addFunctionCallOutput(item.FunctionCallOutput)
		}
	}
	return m.finish()
}

// anthropicContent converts message parts, dropping whitespace-only text.
func anthropicContent(items []ContentItem) []block {
	var out []block
	for _, c := range items {
		switch c.Type {
		case ContentInputText, ContentOutputText:
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			out = append(out, block{"type": "text", "text": c.Text})
		case ContentInputImage:
			if data, ok := base64ImageData(c.ImageURL); ok {
				out = append(out, block{
					"type": "image",
					"source": block{
						"type":       "base64",
						"media_type": imageMediaType(c.ImageURL),
						"data":       data,
					},
				})
			} else {
				out = append(out, block{
					"type":   "image",
					"source": block{"type": "url", "url": c.ImageURL},
				})
			}
		}
	}
	return out
}

// toolResultContent never returns an empty array; the vendor rejects those.
func toolResultContent(p FunctionCallOutputPayload) []block {
	empty := []block{{"type": "text", "text": "[empty]"}}
	if len(p.ContentItems) == 0 {
		if strings.TrimSpace(p.Content) == "" {
			return empty
		}
		return []block{{"type": "text", "text": p.Content}}
	}

	var out []block
	for _, c := range p.ContentItems {
		switch c.Type {
		case ContentInputText, ContentOutputText:
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			out = append(out, block{"type": "text", "text": c.Text})
		case ContentInputImage:
			if data, ok := base64ImageData(c.ImageURL); ok {
				out = append(out, block{
					"type": "image",
					"source": block{
						"type":       "base64",
						"media_type": "image/png",
						"data":       data,
					},
				})
			} else {
				out = append(out, block{"type": "text", "text": "[Image: " + c.ImageURL + "]"})
			}
		}
	}
	if len(out) == 0 {
		return empty
	}
	return out
}

// base64ImageData returns the payload of a data:image/...;base64, URL.
func base64ImageData(url string) (string, bool) {
	if !strings.HasPrefix(url, "data:image/") {
		return "", false
	}
	_, data, ok := strings.Cut(url, ";base64,")
	return data, ok
}

func imageMediaType(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "data:image/png"):
		return "image/png"
	case strings.HasPrefix(lower, "data:image/jpeg"), strings.HasPrefix(lower, "data:image/jpg"):
		return "image/jpeg"
	case strings.HasPrefix(lower, "data:image/gif"):
		return "image/gif"
	case strings.HasPrefix(lower, "data:image/webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}

// buildAnthropicRequest produces the Messages API body and headers.
func buildAnthropicRequest(p Prompt, opts RequestOptions, logger *slog.Logger) *WireRequest {
	budget, thinking := thinkingBudget(opts.ReasoningEffort)

	maxTokens := anthropicDefaultMaxTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}

	body := map[string]interface{}{
		"model":      opts.Model,
		"max_tokens": maxTokens,
		"messages":   buildAnthropicMessages(p.Input, thinking, logger),
		"stream":     true,
	}
	if p.Instructions != "" {
		body["system"] = p.Instructions
	}

	var tools []block
	for _, t := range p.Tools {
		if t.Function.Name == "" {
			continue
		}
		tool := block{
			"name":         t.Function.Name,
			"input_schema": toolParameters(t),
		}
		if t.Function.Description != "" {
			tool["description"] = t.Function.Description
		}
		tools = append(tools, tool)
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}

	if thinking {
		if required := budget + anthropicResponseBuffer; required > maxTokens {
			body["max_tokens"] = required
		}
		body["thinking"] = map[string]interface{}{
			"type":          "enabled",
			"budget_tokens": budget,
		}
		logger.Debug("enabled extended thinking", "effort", opts.ReasoningEffort, "budget_tokens", budget)
	}

	headers := conversationHeaders(opts)
	headers.Set("anthropic-version", anthropicVersion)
	return &WireRequest{Body: body, Header: headers}
}
