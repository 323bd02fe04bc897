// Package config loads llmwire settings from a YAML or JSON file and turns
// them into a ready unifiedllm.Client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/martinemde/llmwire/azureauth"
	"github.com/martinemde/llmwire/unifiedllm"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Defaults used when a file leaves the field unset.
const (
	DefaultModel    = "gpt-5.2"
	DefaultProvider = "openai"
)

// Config is the on-disk configuration. Unset fields fall back to the
// defaults above or the built-in providers.
type Config struct {
	Model                 string                              `yaml:"model" json:"model"`
	ModelProvider         string                              `yaml:"model_provider" json:"model_provider"`
	ModelReasoningEffort  unifiedllm.ReasoningEffort          `yaml:"model_reasoning_effort" json:"model_reasoning_effort"`
	ModelReasoningSummary unifiedllm.ReasoningSummary         `yaml:"model_reasoning_summary" json:"model_reasoning_summary"`
	ModelVerbosity        unifiedllm.Verbosity                `yaml:"model_verbosity" json:"model_verbosity"`
	ModelMaxOutputTokens  int                                 `yaml:"model_max_output_tokens" json:"model_max_output_tokens"`
	WireAPI               unifiedllm.WireAPI                  `yaml:"wire_api" json:"wire_api"`
	ModelProviders        map[string]unifiedllm.ModelProvider `yaml:"model_providers" json:"model_providers"`
	AzureAuth             *azureauth.Config                   `yaml:"azure_auth" json:"azure_auth"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Model: DefaultModel, ModelProvider: DefaultProvider}
}

// Load reads path. Files ending in .json or .jsonc may contain comments and
// trailing commas; anything else is parsed as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data. ext selects the format the same way Load does.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing json config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot produce a working client.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if _, err := c.Provider(); err != nil {
		return err
	}
	if c.ModelMaxOutputTokens < 0 {
		return fmt.Errorf("model_max_output_tokens must not be negative")
	}
	return nil
}

// Providers returns the built-in providers with model_providers entries
// layered on top. A configured entry replaces a built-in of the same name.
func (c *Config) Providers() map[string]unifiedllm.ModelProvider {
	out := unifiedllm.BuiltInProviders()
	for id, p := range c.ModelProviders {
		if p.Name == "" {
			p.Name = id
		}
		out[id] = p
	}
	return out
}

// Provider resolves model_provider.
func (c *Config) Provider() (unifiedllm.ModelProvider, error) {
	id := c.ModelProvider
	if id == "" {
		id = DefaultProvider
	}
	providers := c.Providers()
	p, ok := providers[id]
	if !ok {
		known := make([]string, 0, len(providers))
		for k := range providers {
			known = append(known, k)
		}
		sort.Strings(known)
		return unifiedllm.ModelProvider{}, fmt.Errorf("unknown model provider %q (known: %s)", id, strings.Join(known, ", "))
	}
	return p, nil
}

// Credential returns the Azure credential described by azure_auth, or nil
// when the section is absent.
func (c *Config) Credential(opts ...azureauth.Option) *azureauth.Credential {
	if c.AzureAuth == nil {
		return nil
	}
	return azureauth.NewCredential(*c.AzureAuth, opts...)
}

// ClientOptions translates the model settings into client options. credOpts
// configure the Azure credential, which is built once when azure_auth is set.
func (c *Config) ClientOptions(credOpts ...azureauth.Option) []unifiedllm.ClientOption {
	var opts []unifiedllm.ClientOption
	if c.ModelReasoningEffort != "" || c.ModelReasoningSummary != "" {
		opts = append(opts, unifiedllm.WithReasoning(c.ModelReasoningEffort, c.ModelReasoningSummary))
	}
	if c.ModelVerbosity != "" {
		opts = append(opts, unifiedllm.WithVerbosity(c.ModelVerbosity))
	}
	if c.ModelMaxOutputTokens > 0 {
		opts = append(opts, unifiedllm.WithMaxOutputTokens(c.ModelMaxOutputTokens))
	}
	if c.WireAPI != "" {
		opts = append(opts, unifiedllm.WithWireAPI(c.WireAPI))
	}
	if cred := c.Credential(credOpts...); cred != nil {
		opts = append(opts, unifiedllm.WithTokenSource(cred))
	}
	return opts
}

// NewClient builds a client for the configured model and provider. opts
// are applied after the configured settings and so take precedence.
func (c *Config) NewClient(credOpts []azureauth.Option, opts ...unifiedllm.ClientOption) (*unifiedllm.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	provider, err := c.Provider()
	if err != nil {
		return nil, err
	}
	all := append(c.ClientOptions(credOpts...), opts...)
	return unifiedllm.NewClient(provider, c.Model, all...), nil
}
