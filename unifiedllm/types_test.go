package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemConstructors(t *testing.T) {
	user := UserMessage("Hello")
	assert.Equal(t, ItemMessage, user.Type)
	assert.Equal(t, RoleUser, user.Message.Role)
	assert.Equal(t, ContentInputText, user.Message.Content[0].Type)
	assert.Equal(t, "Hello", user.Message.Text())

	asst := AssistantMessage("Hi")
	assert.Equal(t, ContentOutputText, asst.Message.Content[0].Type)

	call := FunctionCallItem("shell", `{"cmd":"ls"}`, "call_1")
	assert.Equal(t, ItemFunctionCall, call.Type)
	assert.Equal(t, "call_1", call.FunctionCall.CallID)

	out := FunctionCallOutputItem("call_1", "ok")
	assert.Equal(t, "ok", out.FunctionCallOutput.Output.Text())

	r := ReasoningItem(ReasoningData{Content: []string{"a", "b"}})
	assert.Equal(t, "ab", r.Reasoning.Text())
}

func TestMessageTextSkipsImages(t *testing.T) {
	msg := MessageItem(RoleUser, InputText("look "), InputImage("https://x/y.png"), InputText("here"))
	assert.Equal(t, "look here", msg.Message.Text())
}

func TestFunctionCallOutputPayloadText(t *testing.T) {
	p := FunctionCallOutputPayload{ContentItems: []ContentItem{InputText("line"), InputImage("https://x/y.png")}}
	assert.Equal(t, "line\n[Image: https://x/y.png]", p.Text())
}

func TestTokenUsageAdd(t *testing.T) {
	a := TokenUsage{InputTokens: 10, CachedInputTokens: 2, OutputTokens: 5, ReasoningOutputTokens: 1, TotalTokens: 15}
	b := TokenUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}
	assert.Equal(t, TokenUsage{InputTokens: 13, CachedInputTokens: 2, OutputTokens: 9, ReasoningOutputTokens: 1, TotalTokens: 22}, a.Add(b))
}

func TestResponseItemJSON(t *testing.T) {
	item := FunctionCallItem("shell", "{}", "call_1")
	raw, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"function_call","function_call":{"name":"shell","arguments":"{}","call_id":"call_1"}}`, string(raw))
}

func TestResponseItemString(t *testing.T) {
	assert.Equal(t, `message(user): "hi"`, UserMessage("hi").String())
	assert.Equal(t, "function_call(shell call_1)", FunctionCallItem("shell", "{}", "call_1").String())
	assert.Equal(t, "web_search_call", ResponseItem{Type: ItemWebSearchCall}.String())
}

func TestResponseStreamCollect(t *testing.T) {
	stream, out := newResponseStream(context.Background())
	go func() {
		defer out.close()
		out.send(createdEvent())
		out.send(textDeltaEvent("x"))
		out.send(completedEvent("r", nil))
	}()
	events, err := stream.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventCreated, EventOutputTextDelta, EventCompleted}, eventTypes(events))
}

func TestResponseStreamCollectError(t *testing.T) {
	boom := errors.New("boom")
	stream, out := newResponseStream(context.Background())
	go func() {
		defer out.close()
		out.send(createdEvent())
		out.send(errorEvent(boom))
	}()
	events, err := stream.Collect(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, events, 1)
}

func TestResponseStreamCloseStopsProducer(t *testing.T) {
	stream, out := newResponseStream(context.Background())
	closed := false
	stream.onClose = func() { closed = true }

	stream.Close()
	stream.Close()
	assert.True(t, closed)
	assert.False(t, out.send(createdEvent()))
}

func TestResponseStreamSendAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, out := newResponseStream(ctx)
	cancel()

	done := make(chan bool, 1)
	go func() { done <- out.send(createdEvent()) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send blocked after cancellation")
	}
}
