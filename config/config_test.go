package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/martinemde/llmwire/azureauth"
	"github.com/martinemde/llmwire/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
model: claude-sonnet-4-5
model_provider: foundry
model_reasoning_effort: high
model_reasoning_summary: detailed
model_verbosity: low
model_max_output_tokens: 4096
model_providers:
  foundry:
    base_url: https://my-resource.openai.azure.com/openai
    wire_api: responses
    query_params:
      api-version: 2025-04-01-preview
    auth_header_type: bearer
azure_auth:
  mode: client_secret
  tenant_id: t-1
  client_id: c-1
  cloud: us_government
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "llmwire.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.Equal(t, unifiedllm.ReasoningHigh, cfg.ModelReasoningEffort)
	assert.Equal(t, unifiedllm.SummaryDetailed, cfg.ModelReasoningSummary)
	assert.Equal(t, unifiedllm.VerbosityLow, cfg.ModelVerbosity)
	assert.Equal(t, 4096, cfg.ModelMaxOutputTokens)

	p, err := cfg.Provider()
	require.NoError(t, err)
	assert.Equal(t, "foundry", p.Name)
	assert.Equal(t, unifiedllm.WireResponses, p.WireAPI)
	assert.Equal(t, "2025-04-01-preview", p.QueryParams["api-version"])
	require.NotNil(t, p.AuthHeaderType)
	assert.Equal(t, unifiedllm.BearerHeader(), *p.AuthHeaderType)
	assert.True(t, p.IsAzureEndpoint())

	require.NotNil(t, cfg.AzureAuth)
	assert.Equal(t, azureauth.ModeClientSecret, cfg.AzureAuth.Kind)
	assert.Equal(t, "t-1", cfg.AzureAuth.TenantID)
	assert.Equal(t, "https://login.microsoftonline.us", cfg.AzureAuth.EffectiveAuthority())
}

func TestLoadJSONC(t *testing.T) {
	src := `{
  // local ollama
  "model": "llama3",
  "model_provider": "ollama",
  "wire_api": "chat",
}`
	cfg, err := Load(writeFile(t, "llmwire.jsonc", src))
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.Model)
	assert.Equal(t, unifiedllm.WireChat, cfg.WireAPI)
	assert.Nil(t, cfg.AzureAuth)
	assert.Nil(t, cfg.Credential())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "model: [unterminated"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "wire.yaml", "wire_api: carrier-pigeon"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "provider.yaml", "model_provider: nowhere"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown model provider "nowhere"`)
	assert.Contains(t, err.Error(), "openai")

	_, err = Load(writeFile(t, "empty-model.json", `{"model": ""}`))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model)

	p, err := cfg.Provider()
	require.NoError(t, err)
	assert.Equal(t, "OpenAI", p.Name)
}

func TestProvidersOverrideBuiltIns(t *testing.T) {
	cfg := Default()
	cfg.ModelProviders = map[string]unifiedllm.ModelProvider{
		"openai": {Name: "proxy", BaseURL: "https://proxy.internal/v1", WireAPI: unifiedllm.WireChat},
	}
	providers := cfg.Providers()
	assert.Equal(t, "proxy", providers["openai"].Name)
	assert.Contains(t, providers, "anthropic")
}

func TestNewClient(t *testing.T) {
	cfg, err := Parse([]byte(yamlConfig), ".yml")
	require.NoError(t, err)

	client, err := cfg.NewClient(nil, unifiedllm.WithConversationID("conv-7"))
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", client.Model())
	assert.Equal(t, "conv-7", client.ConversationID())
	// Azure endpoint, so the model prefix picks the wire.
	assert.Equal(t, unifiedllm.WireAnthropic, client.EffectiveWireAPI())

	cfg.WireAPI = unifiedllm.WireChat
	client, err = cfg.NewClient(nil)
	require.NoError(t, err)
	assert.Equal(t, unifiedllm.WireChat, client.EffectiveWireAPI())
}

func TestNewClientInvalid(t *testing.T) {
	cfg := Default()
	cfg.ModelProvider = "nowhere"
	_, err := cfg.NewClient(nil)
	assert.Error(t, err)
}

func TestClientOptionsBuildsOneCredential(t *testing.T) {
	cfg, err := Parse([]byte(yamlConfig), ".yml")
	require.NoError(t, err)

	built := 0
	countBuilds := azureauth.Option(func(*azureauth.Credential) { built++ })

	_, err = cfg.NewClient([]azureauth.Option{countBuilds}, unifiedllm.WithConversationID("conv-8"))
	require.NoError(t, err)
	assert.Equal(t, 1, built)

	cfg.AzureAuth = nil
	built = 0
	_ = cfg.ClientOptions(countBuilds)
	assert.Equal(t, 0, built)
}
