package unifiedllm

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	WireAPI           WireAPI  `json:"wire_api"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	MaxOutput         *int     `json:"max_output,omitempty"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	Aliases           []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int { return &v }

// Models is the built-in model catalog.
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-opus-4-6", WireAPI: WireAnthropic, DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, MaxOutput: intPtr(32768), SupportsReasoning: true,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", WireAPI: WireAnthropic, DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(16384), SupportsReasoning: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},

	// OpenAI
	{
		ID: "gpt-5.2", WireAPI: WireResponses, DisplayName: "GPT-5.2",
		ContextWindow: 400000, MaxOutput: intPtr(128000), SupportsReasoning: true,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5.2-codex", WireAPI: WireResponses, DisplayName: "GPT-5.2 Codex",
		ContextWindow: 400000, MaxOutput: intPtr(128000), SupportsReasoning: true,
		Aliases: []string{"codex"},
	},
	{
		ID: "o4-mini", WireAPI: WireResponses, DisplayName: "o4-mini",
		ContextWindow: 200000, MaxOutput: intPtr(100000), SupportsReasoning: true,
	},

	// xAI
	{
		ID: "grok-4", WireAPI: WireChat, DisplayName: "Grok 4",
		ContextWindow: 256000, SupportsReasoning: true,
		Aliases: []string{"grok"},
	},
}

// wireRoutes maps model name prefixes to the wire protocol that serves them.
// The first matching prefix wins.
var wireRoutes = []struct {
	prefix string
	wire   WireAPI
}{
	{"claude-", WireAnthropic},
	{"grok-", WireChat},
	{"gpt-", WireResponses},
	{"o1-", WireResponses},
	{"o3-", WireResponses},
	{"o4-", WireResponses},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by wire protocol.
func ListModels(wire WireAPI) []ModelInfo {
	if wire == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.WireAPI == wire {
			result = append(result, m)
		}
	}
	return result
}

// WireAPIForModel picks the wire protocol for a model name by prefix.
// Unknown models use the Responses API.
func WireAPIForModel(model string) WireAPI {
	lower := strings.ToLower(model)
	for _, r := range wireRoutes {
		if strings.HasPrefix(lower, r.prefix) {
			return r.wire
		}
	}
	return WireResponses
}
