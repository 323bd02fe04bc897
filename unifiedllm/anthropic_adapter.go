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

// anthropicAdapter speaks the Anthropic Messages API.
type anthropicAdapter struct {
	logger *slog.Logger
}

func (a *anthropicAdapter) wire() WireAPI { return WireAnthropic }
func (a *anthropicAdapter) path() string  { return "messages" }

func (a *anthropicAdapter) buildRequest(p Prompt, opts RequestOptions) (*WireRequest, error) {
	if p.OutputSchema != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "output schema is not supported by the anthropic wire api",
		}}
	}
	return buildAnthropicRequest(p, opts, a.logger), nil
}

// anthropicFrame is the subset of Messages API stream frames we read.
type anthropicFrame struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		ID    string          `json:"id"`
		Usage *anthropicUsage `json:"usage"`
	} `json:"message"`
	ContentBlock *struct {
		Type      string `json:"type"`
		ID        string `json:"id"`
		Name      string `json:"name"`
		Thinking  string `json:"thinking"`
		Signature string `json:"signature"`
		Data      string `json:"data"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
		Data        string `json:"data"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

type toolUseState struct {
	id    string
	name  string
	input strings.Builder
}

type thinkingState struct {
	text      strings.Builder
	signature strings.Builder
	blockType string
	redacted  strings.Builder
}

// anthropicStream holds the per-stream parser state.
type anthropicStream struct {
	out    eventSender
	logger *slog.Logger

	responseID    string
	usage         *TokenUsage
	assistant     *MessageData
	toolUses      map[int]*toolUseState
	toolUseOrder  []int
	thinking      map[int]*thinkingState
	completedSent bool
}

// parseStream turns a Messages API event stream into canonical events.
func (a *anthropicAdapter) parseStream(ctx context.Context, body io.ReadCloser, idle time.Duration, out eventSender) {
	defer out.close()
	fr := newFrameReader(body, idle)
	defer fr.close()

	s := &anthropicStream{
		out:      out,
		logger:   a.logger,
		toolUses: make(map[int]*toolUseState),
		thinking: make(map[int]*thinkingState),
	}
	for {
		ev, err := fr.next(ctx, out.done)
		if err == io.EOF {
			s.finish()
			return
		}
		if err != nil {
			if s.completedSent {
				s.logger.Debug("ignoring read error after completion", "error", err)
				return
			}
			if !errors.Is(err, context.Canceled) {
				out.send(errorEvent(streamReadError(err)))
			}
			return
		}
		if !s.handle(ev) {
			return
		}
	}
}

// streamReadError keeps timeouts typed and wraps everything else as a
// stream error.
func streamReadError(err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &StreamError{SDKError: SDKError{Message: err.Error(), Cause: err}}
}

// handle processes one frame. It returns false once the stream is over.
func (s *anthropicStream) handle(ev *sseEvent) bool {
	if strings.TrimSpace(ev.Data) == "" || ev.Event == "[DONE]" {
		return true
	}
	var f anthropicFrame
	if err := json.Unmarshal([]byte(ev.Data), &f); err != nil {
		s.logger.Debug("failed to parse anthropic SSE event", "error", err, "data", ev.Data)
		return true
	}
	if f.Type == "" {
		f.Type = ev.Event
	}

	switch f.Type {
	case "message_start":
		if f.Message != nil {
			s.responseID = f.Message.ID
			s.addUsage(f.Message.Usage)
		}
		return s.out.send(createdEvent())

	case "content_block_start":
		if f.ContentBlock == nil {
			return true
		}
		switch f.ContentBlock.Type {
		case "text":
			return s.openAssistant()
		case "tool_use":
			s.toolUses[f.Index] = &toolUseState{id: f.ContentBlock.ID, name: f.ContentBlock.Name}
			s.toolUseOrder = append(s.toolUseOrder, f.Index)
		case "thinking", "redacted_thinking":
			st := &thinkingState{blockType: f.ContentBlock.Type}
			st.text.WriteString(f.ContentBlock.Thinking)
			st.signature.WriteString(f.ContentBlock.Signature)
			st.redacted.WriteString(f.ContentBlock.Data)
			s.thinking[f.Index] = st
		}
		return true

	case "content_block_delta":
		if f.Delta == nil {
			return true
		}
		return s.handleDelta(f.Index, f.Delta.Type, f)

	case "content_block_stop":
		st, ok := s.thinking[f.Index]
		if !ok {
			// tool_use blocks are emitted on message_delta to keep their order.
			return true
		}
		delete(s.thinking, f.Index)
		if st.text.Len() == 0 && st.redacted.Len() == 0 && st.signature.Len() == 0 {
			return true
		}
		r := ReasoningData{
			ID:                fmt.Sprintf("thinking-%d", f.Index),
			EncryptedContent:  st.redacted.String(),
			ThinkingSignature: st.signature.String(),
			ThinkingBlockType: st.blockType,
		}
		if st.text.Len() > 0 {
			r.Content = []string{st.text.String()}
		}
		return s.out.send(itemDoneEvent(ReasoningItem(r)))

	case "message_delta":
		s.addUsage(f.Usage)
		if f.Delta == nil {
			return true
		}
		switch f.Delta.StopReason {
		case "end_turn", "stop", "stop_sequence":
			return s.complete()
		case "tool_use":
			return s.flushToolUses()
		case "max_tokens":
			s.out.send(errorEvent(&ContextWindowExceededError{SDKError: SDKError{
				Message: "context window exceeded: response hit max_tokens",
			}}))
			return false
		}
		return true

	case "message_stop":
		s.complete()
		return false

	case "error":
		msg := "Unknown Anthropic API error"
		if f.Error != nil && f.Error.Message != "" {
			msg = f.Error.Message
		}
		if s.completedSent {
			s.logger.Debug("ignoring error frame after completion", "message", msg)
			return false
		}
		s.out.send(errorEvent(&StreamError{SDKError: SDKError{Message: msg}}))
		return false

	case "ping":
		return true

	default:
		s.logger.Debug("unknown anthropic event type", "type", f.Type)
		return true
	}
}

func (s *anthropicStream) handleDelta(index int, deltaType string, f anthropicFrame) bool {
	d := f.Delta
	switch deltaType {
	case "text_delta":
		if !s.openAssistant() {
			return false
		}
		s.assistant.Content = append(s.assistant.Content, OutputText(d.Text))
		return s.out.send(textDeltaEvent(d.Text))
	case "input_json_delta":
		if st, ok := s.toolUses[index]; ok {
			st.input.WriteString(d.PartialJSON)
		}
	case "thinking_delta":
		if st, ok := s.thinking[index]; ok {
			st.text.WriteString(d.Thinking)
			return s.out.send(reasoningDeltaEvent(d.Thinking, index))
		}
	case "redacted_thinking_delta":
		if st, ok := s.thinking[index]; ok {
			st.redacted.WriteString(d.Data)
		}
	case "signature_delta":
		// Signatures may arrive split across several deltas.
		if st, ok := s.thinking[index]; ok {
			st.signature.WriteString(d.Signature)
		}
	}
	return true
}

// openAssistant lazily creates the single assistant message for this turn.
func (s *anthropicStream) openAssistant() bool {
	if s.assistant != nil {
		return true
	}
	s.assistant = &MessageData{Role: RoleAssistant}
	return s.out.send(itemAddedEvent(MessageItem(RoleAssistant)))
}

func (s *anthropicStream) flushToolUses() bool {
	for _, index := range s.toolUseOrder {
		st, ok := s.toolUses[index]
		if !ok {
			continue
		}
		delete(s.toolUses, index)
		if st.name == "" {
			s.logger.Debug("skipping tool use without name", "index", index)
			continue
		}
		callID := st.id
		if callID == "" {
			callID = fmt.Sprintf("tool-use-%d", index)
		}
		if !s.out.send(itemDoneEvent(FunctionCallItem(st.name, st.input.String(), callID))) {
			return false
		}
	}
	s.toolUseOrder = nil
	return true
}

// complete emits the open assistant message and, once, Completed.
func (s *anthropicStream) complete() bool {
	if s.assistant != nil {
		item := ResponseItem{Type: ItemMessage, Message: s.assistant}
		s.assistant = nil
		if !s.out.send(itemDoneEvent(item)) {
			return false
		}
	}
	if s.completedSent {
		return true
	}
	s.completedSent = true
	return s.out.send(completedEvent(s.responseID, s.usage))
}

// finish runs when the body ends without an explicit terminal frame.
func (s *anthropicStream) finish() {
	s.complete()
}

func (s *anthropicStream) addUsage(u *anthropicUsage) {
	if u == nil {
		return
	}
	if s.usage == nil {
		s.usage = &TokenUsage{}
	}
	if u.InputTokens > 0 || u.CacheReadInputTokens > 0 || u.CacheCreationInputTokens > 0 {
		s.usage.InputTokens = u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
		s.usage.CachedInputTokens = u.CacheReadInputTokens
	}
	if u.OutputTokens > 0 {
		s.usage.OutputTokens = u.OutputTokens
	}
	s.usage.TotalTokens = s.usage.InputTokens + s.usage.OutputTokens
}
