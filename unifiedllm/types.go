package unifiedllm

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
)

// ItemType is the discriminator tag for ResponseItem.
type ItemType string

const (
	ItemMessage              ItemType = "message"
	ItemReasoning            ItemType = "reasoning"
	ItemFunctionCall         ItemType = "function_call"
	ItemFunctionCallOutput   ItemType = "function_call_output"
	ItemWebSearchCall        ItemType = "web_search_call"
	ItemCustomToolCall       ItemType = "custom_tool_call"
	ItemCustomToolCallOutput ItemType = "custom_tool_call_output"
	ItemLocalShellCall       ItemType = "local_shell_call"
	ItemOther                ItemType = "other"
)

// ContentType is the discriminator tag for ContentItem.
type ContentType string

const (
	ContentInputText  ContentType = "input_text"
	ContentOutputText ContentType = "output_text"
	ContentInputImage ContentType = "input_image"
)

// ContentItem is one part of a message or of a structured tool output.
type ContentItem struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
}

// InputText creates a user-side text part.
func InputText(text string) ContentItem {
	return ContentItem{Type: ContentInputText, Text: text}
}

// OutputText creates a model-side text part.
func OutputText(text string) ContentItem {
	return ContentItem{Type: ContentOutputText, Text: text}
}

// InputImage creates an image part from a URL. Data URLs are allowed.
func InputImage(url string) ContentItem {
	return ContentItem{Type: ContentInputImage, ImageURL: url}
}

// MessageData is the payload of an ItemMessage.
type MessageData struct {
	ID      string        `json:"id,omitempty"`
	Role    Role          `json:"role"`
	Content []ContentItem `json:"content"`
}

// Text returns the concatenated text of all text parts.
func (m MessageData) Text() string {
	var sb strings.Builder
	for _, c := range m.Content {
		if c.Type == ContentInputText || c.Type == ContentOutputText {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// ReasoningData is the payload of an ItemReasoning.
//
// ThinkingSignature and ThinkingBlockType are only populated for
// Anthropic-style extended thinking and must be replayed unchanged.
// EncryptedContent holds the opaque payload of redacted thinking.
type ReasoningData struct {
	ID                string   `json:"id,omitempty"`
	Summary           []string `json:"summary,omitempty"`
	Content           []string `json:"content,omitempty"`
	EncryptedContent  string   `json:"encrypted_content,omitempty"`
	ThinkingSignature string   `json:"thinking_signature,omitempty"`
	ThinkingBlockType string   `json:"thinking_block_type,omitempty"`
}

// Text returns the concatenated reasoning content.
func (r ReasoningData) Text() string {
	return strings.Join(r.Content, "")
}

// FunctionCallData is the payload of an ItemFunctionCall. Arguments is the
// raw JSON string produced by the model.
type FunctionCallData struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`
}

// FunctionCallOutputPayload is either plain Content or a list of
// ContentItems (input_text / input_image).
type FunctionCallOutputPayload struct {
	Content      string        `json:"content,omitempty"`
	ContentItems []ContentItem `json:"content_items,omitempty"`
	Success      *bool         `json:"success,omitempty"`
}

// Text flattens the payload into a single string.
func (p FunctionCallOutputPayload) Text() string {
	if len(p.ContentItems) == 0 {
		return p.Content
	}
	var parts []string
	for _, c := range p.ContentItems {
		switch c.Type {
		case ContentInputText, ContentOutputText:
			parts = append(parts, c.Text)
		case ContentInputImage:
			parts = append(parts, "[Image: "+c.ImageURL+"]")
		}
	}
	return strings.Join(parts, "\n")
}

// FunctionCallOutputData is the payload of an ItemFunctionCallOutput.
type FunctionCallOutputData struct {
	CallID string                    `json:"call_id"`
	Output FunctionCallOutputPayload `json:"output"`
}

// ResponseItem is a tagged union of conversation units. Exactly one payload
// pointer matching Type is set. Inert variants (web search, custom tools,
// local shell, other) carry only Raw.
type ResponseItem struct {
	Type               ItemType                `json:"type"`
	Message            *MessageData            `json:"message,omitempty"`
	Reasoning          *ReasoningData          `json:"reasoning,omitempty"`
	FunctionCall       *FunctionCallData       `json:"function_call,omitempty"`
	FunctionCallOutput *FunctionCallOutputData `json:"function_call_output,omitempty"`
	Raw                json.RawMessage         `json:"raw,omitempty"`
}

// MessageItem creates a message with arbitrary content.
func MessageItem(role Role, content ...ContentItem) ResponseItem {
	return ResponseItem{Type: ItemMessage, Message: &MessageData{Role: role, Content: content}}
}

// UserMessage creates a user message with a single text part.
func UserMessage(text string) ResponseItem {
	return MessageItem(RoleUser, InputText(text))
}

// AssistantMessage creates an assistant message with a single text part.
func AssistantMessage(text string) ResponseItem {
	return MessageItem(RoleAssistant, OutputText(text))
}

// FunctionCallItem creates a function call.
func FunctionCallItem(name, arguments, callID string) ResponseItem {
	return ResponseItem{
		Type:         ItemFunctionCall,
		FunctionCall: &FunctionCallData{Name: name, Arguments: arguments, CallID: callID},
	}
}

// FunctionCallOutputItem creates a plain-text function call output.
func FunctionCallOutputItem(callID, content string) ResponseItem {
	return ResponseItem{
		Type: ItemFunctionCallOutput,
		FunctionCallOutput: &FunctionCallOutputData{
			CallID: callID,
			Output: FunctionCallOutputPayload{Content: content},
		},
	}
}

// ReasoningItem creates a reasoning item from its payload.
func ReasoningItem(r ReasoningData) ResponseItem {
	return ResponseItem{Type: ItemReasoning, Reasoning: &r}
}

// TokenUsage tracks token consumption for a single response.
type TokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens,omitempty"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens,omitempty"`
	TotalTokens           int64 `json:"total_tokens"`
}

// Add combines two usage values.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:           u.InputTokens + other.InputTokens,
		CachedInputTokens:     u.CachedInputTokens + other.CachedInputTokens,
		OutputTokens:          u.OutputTokens + other.OutputTokens,
		ReasoningOutputTokens: u.ReasoningOutputTokens + other.ReasoningOutputTokens,
		TotalTokens:           u.TotalTokens + other.TotalTokens,
	}
}

// EventType identifies the kind of ResponseEvent.
type EventType string

const (
	EventCreated               EventType = "created"
	EventOutputItemAdded       EventType = "output_item_added"
	EventOutputTextDelta       EventType = "output_text_delta"
	EventReasoningContentDelta EventType = "reasoning_content_delta"
	EventReasoningSummaryDelta EventType = "reasoning_summary_delta"
	EventOutputItemDone        EventType = "output_item_done"
	EventCompleted             EventType = "completed"
	EventError                 EventType = "error"
)

// ResponseEvent is a single canonical event on a ResponseStream.
//
// A stream carries zero or more item events followed by exactly one
// EventCompleted or one EventError, never both.
type ResponseEvent struct {
	Type         EventType     `json:"type"`
	Item         *ResponseItem `json:"item,omitempty"`
	Delta        string        `json:"delta,omitempty"`
	ContentIndex int           `json:"content_index,omitempty"`
	ResponseID   string        `json:"response_id,omitempty"`
	TokenUsage   *TokenUsage   `json:"token_usage,omitempty"`
	Err          error         `json:"-"`
}

func createdEvent() ResponseEvent { return ResponseEvent{Type: EventCreated} }

func itemAddedEvent(item ResponseItem) ResponseEvent {
	return ResponseEvent{Type: EventOutputItemAdded, Item: &item}
}

func itemDoneEvent(item ResponseItem) ResponseEvent {
	return ResponseEvent{Type: EventOutputItemDone, Item: &item}
}

func textDeltaEvent(delta string) ResponseEvent {
	return ResponseEvent{Type: EventOutputTextDelta, Delta: delta}
}

func reasoningDeltaEvent(delta string, index int) ResponseEvent {
	return ResponseEvent{Type: EventReasoningContentDelta, Delta: delta, ContentIndex: index}
}

func completedEvent(responseID string, usage *TokenUsage) ResponseEvent {
	return ResponseEvent{Type: EventCompleted, ResponseID: responseID, TokenUsage: usage}
}

func errorEvent(err error) ResponseEvent {
	return ResponseEvent{Type: EventError, Err: err}
}
