package unifiedllm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
)

func chatParser() wireAdapter { return &chatAdapter{logger: discardLogger()} }

func TestChatBuildRequest(t *testing.T) {
	a := &chatAdapter{logger: discardLogger()}
	req, err := a.buildRequest(Prompt{
		Instructions: "Be brief.",
		Input: []ResponseItem{
			UserMessage("list"),
			ReasoningItem(ReasoningData{Content: []string{"thinking"}}),
			FunctionCallItem("shell", `{"cmd":"ls"}`, "call_1"),
			FunctionCallItem("shell", `{"cmd":"pwd"}`, "call_2"),
			FunctionCallOutputItem("call_1", "a.txt"),
			FunctionCallOutputItem("call_2", "/tmp"),
			AssistantMessage("done"),
		},
		Tools: []gollm.Tool{FunctionTool("shell", "Run a command", nil)},
	}, RequestOptions{Model: "grok-4", MaxOutputTokens: 100})
	require.NoError(t, err)
	body := roundTrip(t, req.Body)

	assert.Equal(t, "grok-4", body["model"])
	assert.Equal(t, map[string]interface{}{"include_usage": true}, body["stream_options"])
	assert.Equal(t, float64(100), body["max_tokens"])

	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 6)
	system := msgs[0].(map[string]interface{})
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, "Be brief.", system["content"])

	calls := msgs[2].(map[string]interface{})
	assert.Equal(t, "assistant", calls["role"])
	assert.Equal(t, "thinking", calls["reasoning"])
	require.Len(t, calls["tool_calls"], 2)

	tool := msgs[3].(map[string]interface{})
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, "a.txt", tool["content"])

	final := msgs[5].(map[string]interface{})
	assert.Equal(t, "done", final["content"])

	tools := body["tools"].([]interface{})
	fn := tools[0].(map[string]interface{})["function"].(map[string]interface{})
	assert.Equal(t, "shell", fn["name"])
}

func TestChatBuildRequestRejectsOutputSchema(t *testing.T) {
	a := &chatAdapter{logger: discardLogger()}
	_, err := a.buildRequest(Prompt{OutputSchema: map[string]interface{}{"type": "object"}}, RequestOptions{Model: "grok-4"})
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestChatStreamText(t *testing.T) {
	body := sseBody(t,
		"", map[string]interface{}{"id": "chatcmpl-1", "choices": []interface{}{
			map[string]interface{}{"delta": map[string]interface{}{"role": "assistant", "content": "Hel"}},
		}},
		"", map[string]interface{}{"id": "chatcmpl-1", "choices": []interface{}{
			map[string]interface{}{"delta": map[string]interface{}{"content": "lo"}, "finish_reason": "stop"},
		}},
		"", map[string]interface{}{"id": "chatcmpl-1", "choices": []interface{}{},
			"usage": map[string]interface{}{"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9}},
	) + "data: [DONE]\n\n"

	events := parseAll(t, chatParser(), body)
	assert.Equal(t, []EventType{
		EventCreated,
		EventOutputItemAdded,
		EventOutputTextDelta,
		EventOutputTextDelta,
		EventOutputItemDone,
		EventCompleted,
	}, eventTypes(events))

	items := doneItems(events)
	assert.Equal(t, "Hello", items[0].Message.Text())
	done := lastEvent(t, events)
	assert.Equal(t, "chatcmpl-1", done.ResponseID)
	assert.Equal(t, int64(9), done.TokenUsage.TotalTokens)
}

func TestChatStreamToolCalls(t *testing.T) {
	body := sseBody(t,
		"", map[string]interface{}{"choices": []interface{}{
			map[string]interface{}{"delta": map[string]interface{}{"tool_calls": []interface{}{
				map[string]interface{}{"index": 1, "function": map[string]interface{}{"name": "second", "arguments": "{}"}},
				map[string]interface{}{"index": 0, "id": "call_a", "function": map[string]interface{}{"name": "first", "arguments": `{"x":`}},
			}}},
		}},
		"", map[string]interface{}{"choices": []interface{}{
			map[string]interface{}{"delta": map[string]interface{}{"tool_calls": []interface{}{
				map[string]interface{}{"index": 0, "function": map[string]interface{}{"arguments": `1}`}},
			}}, "finish_reason": "tool_calls"},
		}},
	)

	events := parseAll(t, chatParser(), body)
	items := doneItems(events)
	require.Len(t, items, 2)
	// Calls come out in the order they were first seen, not by index.
	assert.Equal(t, "second", items[0].FunctionCall.Name)
	assert.Equal(t, "tool-call-1", items[0].FunctionCall.CallID)
	assert.Equal(t, "first", items[1].FunctionCall.Name)
	assert.Equal(t, "call_a", items[1].FunctionCall.CallID)
	assert.Equal(t, `{"x":1}`, items[1].FunctionCall.Arguments)
	assert.Equal(t, EventCompleted, lastEvent(t, events).Type)
}

func TestChatStreamReasoning(t *testing.T) {
	body := sseBody(t,
		"", map[string]interface{}{"choices": []interface{}{
			map[string]interface{}{"delta": map[string]interface{}{"reasoning_content": "hmm"}},
		}},
		"", map[string]interface{}{"choices": []interface{}{
			map[string]interface{}{"delta": map[string]interface{}{"content": "ok"}, "finish_reason": "stop"},
		}},
	)
	events := parseAll(t, chatParser(), body)
	items := doneItems(events)
	require.Len(t, items, 2)
	assert.Equal(t, "hmm", items[0].Reasoning.Text())
	assert.Equal(t, "ok", items[1].Message.Text())
}

func TestChatStreamLength(t *testing.T) {
	body := sseBody(t, "", map[string]interface{}{"choices": []interface{}{
		map[string]interface{}{"delta": map[string]interface{}{"content": "cut"}, "finish_reason": "length"},
	}})
	last := lastEvent(t, parseAll(t, chatParser(), body))
	var cw *ContextWindowExceededError
	assert.True(t, errors.As(last.Err, &cw))
}

func TestChatStreamCompletesOnceOnEOF(t *testing.T) {
	body := sseBody(t, "", map[string]interface{}{"choices": []interface{}{
		map[string]interface{}{"delta": map[string]interface{}{"content": "x"}},
	}})
	events := parseAll(t, chatParser(), body)
	completed := 0
	for _, ev := range events {
		if ev.Type == EventCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	// The message is still open at EOF; it is flushed before Completed.
	assert.Len(t, doneItems(events), 1)
}
