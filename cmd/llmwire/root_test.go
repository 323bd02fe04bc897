package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/martinemde/llmwire/azureauth"
	"github.com/martinemde/llmwire/config"
	"github.com/martinemde/llmwire/unifiedllm"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadConfigDefaults(t *testing.T) {
	resetViper(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultModel, cfg.Model)
	assert.Equal(t, config.DefaultProvider, cfg.ModelProvider)
}

func TestLoadConfigOverrides(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "llmwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: gpt-5.2\nmodel_provider: openai\n"), 0o600))

	viper.Set("config", path)
	viper.Set("model", "claude-opus-4-6")
	viper.Set("provider", "anthropic")
	viper.Set("effort", "high")
	viper.Set("wire_api", "anthropic")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-6", cfg.Model)
	assert.Equal(t, "anthropic", cfg.ModelProvider)
	assert.Equal(t, unifiedllm.ReasoningHigh, cfg.ModelReasoningEffort)
	assert.Equal(t, unifiedllm.WireAnthropic, cfg.WireAPI)
}

func TestLoadConfigRejectsBadOverrides(t *testing.T) {
	resetViper(t)
	viper.Set("wire_api", "smoke-signals")
	_, err := loadConfig()
	assert.Error(t, err)

	viper.Reset()
	viper.Set("provider", "nowhere")
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestModelsCommand(t *testing.T) {
	var out bytes.Buffer
	modelsCmd.SetOut(&out)
	t.Cleanup(func() { modelsCmd.SetOut(nil) })
	require.NoError(t, modelsCmd.Flags().Set("wire", "anthropic"))
	t.Cleanup(func() { _ = modelsCmd.Flags().Set("wire", "") })

	require.NoError(t, runModels(modelsCmd, nil))
	assert.Contains(t, out.String(), "claude-opus-4-6")
	assert.NotContains(t, out.String(), "gpt-5.2")
}

func TestLoginRequiresAzureAuth(t *testing.T) {
	resetViper(t)
	err := runLogin(loginCmd, nil)
	require.ErrorIs(t, err, azureauth.ErrNotConfigured)
	assert.Contains(t, err.Error(), "azure_auth")
}
