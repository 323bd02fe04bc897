package unifiedllm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
)

// roundTrip renders a request body through JSON so tests compare plain
// decoded values.
func roundTrip(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func anthropicBody(t *testing.T, p Prompt, opts RequestOptions) map[string]interface{} {
	t.Helper()
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-5"
	}
	req := buildAnthropicRequest(p, opts, discardLogger())
	return roundTrip(t, req.Body)
}

func messagesOf(t *testing.T, body map[string]interface{}) []map[string]interface{} {
	t.Helper()
	raw, ok := body["messages"].([]interface{})
	require.True(t, ok, "messages missing")
	out := make([]map[string]interface{}, len(raw))
	for i, m := range raw {
		out[i] = m.(map[string]interface{})
	}
	return out
}

func contentOf(t *testing.T, msg map[string]interface{}) []map[string]interface{} {
	t.Helper()
	raw, ok := msg["content"].([]interface{})
	require.True(t, ok, "content missing")
	out := make([]map[string]interface{}, len(raw))
	for i, c := range raw {
		out[i] = c.(map[string]interface{})
	}
	return out
}

func TestBuildAnthropicRequestBasic(t *testing.T) {
	body := anthropicBody(t, Prompt{
		Instructions: "Be brief.",
		Input:        []ResponseItem{UserMessage("Hello")},
	}, RequestOptions{})

	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.Equal(t, float64(anthropicDefaultMaxTokens), body["max_tokens"])
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "Be brief.", body["system"])
	assert.NotContains(t, body, "thinking")
	assert.NotContains(t, body, "tools")

	msgs := messagesOf(t, body)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0]["role"])
	content := contentOf(t, msgs[0])
	require.Len(t, content, 1)
	assert.Equal(t, "text", content[0]["type"])
	assert.Equal(t, "Hello", content[0]["text"])
}

func TestBuildAnthropicRequestOmitsEmptySystem(t *testing.T) {
	body := anthropicBody(t, Prompt{Input: []ResponseItem{UserMessage("Hi")}}, RequestOptions{})
	assert.NotContains(t, body, "system")
}

func TestBuildAnthropicRequestHeaders(t *testing.T) {
	req := buildAnthropicRequest(Prompt{}, RequestOptions{Model: "claude-sonnet-4-5", ConversationID: "conv-1"}, discardLogger())
	assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))
	assert.Equal(t, "conv-1", req.Header.Get("conversation_id"))
	assert.Equal(t, "conv-1", req.Header.Get("session_id"))
}

func TestBuildAnthropicRequestDropsUnansweredToolUse(t *testing.T) {
	body := anthropicBody(t, Prompt{Input: []ResponseItem{
		UserMessage("list files"),
		FunctionCallItem("shell", `{"cmd":"ls"}`, "call_orphan"),
	}}, RequestOptions{})

	msgs := messagesOf(t, body)
	require.Len(t, msgs, 1)
	for _, msg := range msgs {
		for _, c := range contentOf(t, msg) {
			assert.NotEqual(t, "tool_use", c["type"])
		}
	}
}

func TestBuildAnthropicRequestToolUseThenResult(t *testing.T) {
	body := anthropicBody(t, Prompt{Input: []ResponseItem{
		UserMessage("list files"),
		FunctionCallItem("shell", `{"cmd":"ls"}`, "call_1"),
		FunctionCallItem("shell", `{"cmd":"pwd"}`, "call_2"),
		AssistantMessage("running both"),
		FunctionCallOutputItem("call_1", "a.txt"),
		FunctionCallOutputItem("call_2", ""),
	}}, RequestOptions{})

	msgs := messagesOf(t, body)
	require.Len(t, msgs, 4)

	assert.Equal(t, "assistant", msgs[1]["role"])
	uses := contentOf(t, msgs[1])
	require.Len(t, uses, 2)
	assert.Equal(t, "tool_use", uses[0]["type"])
	assert.Equal(t, "call_1", uses[0]["id"])
	assert.Equal(t, map[string]interface{}{"cmd": "ls"}, uses[0]["input"])
	assert.Equal(t, "call_2", uses[1]["id"])

	assert.Equal(t, "user", msgs[2]["role"])
	results := contentOf(t, msgs[2])
	require.Len(t, results, 2)
	assert.Equal(t, "tool_result", results[0]["type"])
	assert.Equal(t, "call_1", results[0]["tool_use_id"])
	empty := results[1]["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "[empty]", empty["text"])

	// The interleaved assistant text is deferred until after the results.
	assert.Equal(t, "assistant", msgs[3]["role"])
	assert.Equal(t, "running both", contentOf(t, msgs[3])[0]["text"])
}

func TestBuildAnthropicRequestThinking(t *testing.T) {
	signed := ReasoningItem(ReasoningData{Content: []string{"plan"}, ThinkingSignature: "sig", ThinkingBlockType: "thinking"})
	input := []ResponseItem{
		UserMessage("go"),
		signed,
		FunctionCallItem("shell", `{}`, "call_1"),
		FunctionCallOutputItem("call_1", "ok"),
	}

	t.Run("disabled", func(t *testing.T) {
		body := anthropicBody(t, Prompt{Input: input}, RequestOptions{})
		assert.NotContains(t, body, "thinking")
		uses := contentOf(t, messagesOf(t, body)[1])
		require.Len(t, uses, 1)
		assert.Equal(t, "tool_use", uses[0]["type"])
	})

	t.Run("enabled", func(t *testing.T) {
		body := anthropicBody(t, Prompt{Input: input}, RequestOptions{ReasoningEffort: ReasoningMedium})
		thinking := body["thinking"].(map[string]interface{})
		assert.Equal(t, "enabled", thinking["type"])
		assert.Equal(t, float64(16000), thinking["budget_tokens"])
		assert.Equal(t, float64(16000+anthropicResponseBuffer), body["max_tokens"])

		uses := contentOf(t, messagesOf(t, body)[1])
		require.Len(t, uses, 2)
		assert.Equal(t, "thinking", uses[0]["type"])
		assert.Equal(t, "plan", uses[0]["thinking"])
		assert.Equal(t, "sig", uses[0]["signature"])
		assert.Equal(t, "tool_use", uses[1]["type"])
	})

	t.Run("redacted", func(t *testing.T) {
		redacted := ReasoningItem(ReasoningData{EncryptedContent: "opaque", ThinkingSignature: "sig"})
		body := anthropicBody(t, Prompt{Input: []ResponseItem{UserMessage("go"), redacted, AssistantMessage("done")}},
			RequestOptions{ReasoningEffort: ReasoningLow})
		content := contentOf(t, messagesOf(t, body)[1])
		require.Len(t, content, 2)
		assert.Equal(t, "redacted_thinking", content[0]["type"])
		assert.Equal(t, "opaque", content[0]["data"])
	})
}

func TestBuildAnthropicRequestTools(t *testing.T) {
	body := anthropicBody(t, Prompt{
		Input: []ResponseItem{UserMessage("weather?")},
		Tools: []gollm.Tool{
			FunctionTool("get_weather", "Get the weather", map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
			}),
			FunctionTool("noop", "", nil),
		},
	}, RequestOptions{})

	tools := body["tools"].([]interface{})
	require.Len(t, tools, 2)
	first := tools[0].(map[string]interface{})
	assert.Equal(t, "get_weather", first["name"])
	assert.Equal(t, "Get the weather", first["description"])
	assert.Contains(t, first, "input_schema")
	second := tools[1].(map[string]interface{})
	assert.NotContains(t, second, "description")
	assert.Equal(t, "object", second["input_schema"].(map[string]interface{})["type"])
}

func TestBuildAnthropicRequestImages(t *testing.T) {
	body := anthropicBody(t, Prompt{Input: []ResponseItem{
		MessageItem(RoleUser, InputText("see"), InputImage("data:image/jpeg;base64,QUJD"), InputImage("https://x/y.webp")),
	}}, RequestOptions{})

	content := contentOf(t, messagesOf(t, body)[0])
	require.Len(t, content, 3)
	src := content[1]["source"].(map[string]interface{})
	assert.Equal(t, "base64", src["type"])
	assert.Equal(t, "image/jpeg", src["media_type"])
	assert.Equal(t, "QUJD", src["data"])
	url := content[2]["source"].(map[string]interface{})
	assert.Equal(t, "url", url["type"])
}

func TestBuildAnthropicRequestUnknownRoleBecomesUser(t *testing.T) {
	body := anthropicBody(t, Prompt{Input: []ResponseItem{
		MessageItem(RoleDeveloper, InputText("note")),
		MessageItem(RoleSystem, InputText("ignored")),
	}}, RequestOptions{})
	msgs := messagesOf(t, body)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0]["role"])
}
