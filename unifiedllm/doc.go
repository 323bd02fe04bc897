// Package unifiedllm streams model responses from several vendor wire
// protocols through one canonical event model.
//
// # Architecture
//
// The package is layered:
//
//   - Canonical model: ResponseItem, ResponseEvent and TokenUsage
//   - Wire adapters: a request builder and an SSE parser per protocol
//     (OpenAI Responses, Chat Completions, Anthropic Messages)
//   - Transport: HTTP execution, retry with backoff, idle timeout
//   - Client: wire selection, per-attempt credentials, one-shot 401 refresh
//     and error mapping
//
// # Quick Start
//
//	provider := unifiedllm.BuiltInProviders()["anthropic"]
//	client := unifiedllm.NewClient(provider, "claude-sonnet-4-5")
//
//	stream, err := client.Stream(ctx, unifiedllm.Prompt{
//	    Instructions: "Be brief.",
//	    Input:        []unifiedllm.ResponseItem{unifiedllm.UserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for ev := range stream.Events() {
//	    switch ev.Type {
//	    case unifiedllm.EventOutputTextDelta:
//	        fmt.Print(ev.Delta)
//	    case unifiedllm.EventError:
//	        return ev.Err
//	    }
//	}
//
// # Tools
//
// Tool specs use the gollm function tool shape. Each adapter reshapes them
// for its wire:
//
//	tool := unifiedllm.FunctionTool("get_weather", "Get the weather", map[string]interface{}{
//	    "type": "object",
//	    "properties": map[string]interface{}{
//	        "city": map[string]interface{}{"type": "string"},
//	    },
//	})
//
// StructTool derives the parameters schema from a Go struct instead:
//
//	type weatherArgs struct {
//	    City string `json:"city" validate:"required"`
//	}
//	tool, err := unifiedllm.StructTool("get_weather", "Get the weather", weatherArgs{})
//
// # Credentials
//
// Static keys come from the provider's env_key or experimental bearer
// token. Refreshable tokens come from a TokenSource such as
// azureauth.Credential; a 401 clears its cache and the request is retried
// once with a fresh token.
//
// # Errors
//
// Errors returned by Client.Stream, and those carried by EventError, are
// mapped into the caller-facing taxonomy (InvalidRequestError,
// TimeoutError, UsageLimitReachedError and so on). Use errors.As to inspect
// them and IsRetryable to decide whether to try again.
package unifiedllm
