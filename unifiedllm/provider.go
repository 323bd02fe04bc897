package unifiedllm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// WireAPI names one vendor wire protocol.
type WireAPI string

const (
	WireResponses WireAPI = "responses"
	WireChat      WireAPI = "chat"
	WireAnthropic WireAPI = "anthropic"
)

// ParseWireAPI parses a wire protocol name.
func ParseWireAPI(s string) (WireAPI, error) {
	switch WireAPI(strings.ToLower(strings.TrimSpace(s))) {
	case WireResponses:
		return WireResponses, nil
	case WireChat, "chat_completions":
		return WireChat, nil
	case WireAnthropic, "messages":
		return WireAnthropic, nil
	}
	return "", fmt.Errorf("unknown wire api %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WireAPI) UnmarshalText(b []byte) error {
	parsed, err := ParseWireAPI(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// wireAdapter is implemented by every wire protocol. buildRequest turns a
// canonical prompt into a vendor body and headers; parseStream turns the
// vendor's SSE body into canonical events and must close out.
type wireAdapter interface {
	wire() WireAPI
	path() string
	buildRequest(p Prompt, opts RequestOptions) (*WireRequest, error)
	parseStream(ctx context.Context, body io.ReadCloser, idle time.Duration, out eventSender)
}

func adapterFor(wire WireAPI, logger *slog.Logger) wireAdapter {
	switch wire {
	case WireAnthropic:
		return &anthropicAdapter{logger: logger}
	case WireChat:
		return &chatAdapter{logger: logger}
	default:
		return &responsesAdapter{logger: logger}
	}
}

// WireRequest is a fully built vendor request body plus protocol headers.
type WireRequest struct {
	Body   map[string]interface{}
	Header http.Header
}

const (
	defaultRequestMaxRetries = 4
	maxRequestMaxRetries     = 100
	defaultStreamIdleTimeout = 300_000 * time.Millisecond
)

// ModelProvider is the configuration of one backend, as read from config.
type ModelProvider struct {
	Name                    string            `yaml:"name" json:"name"`
	BaseURL                 string            `yaml:"base_url" json:"base_url"`
	EnvKey                  string            `yaml:"env_key" json:"env_key"`
	EnvKeyInstructions      string            `yaml:"env_key_instructions" json:"env_key_instructions"`
	ExperimentalBearerToken string            `yaml:"experimental_bearer_token" json:"experimental_bearer_token"`
	WireAPI                 WireAPI           `yaml:"wire_api" json:"wire_api"`
	QueryParams             map[string]string `yaml:"query_params" json:"query_params"`
	HTTPHeaders             map[string]string `yaml:"http_headers" json:"http_headers"`
	EnvHTTPHeaders          map[string]string `yaml:"env_http_headers" json:"env_http_headers"`
	RequestMaxRetries       *int              `yaml:"request_max_retries" json:"request_max_retries"`
	StreamIdleTimeoutMS     *int64            `yaml:"stream_idle_timeout_ms" json:"stream_idle_timeout_ms"`
	AuthHeaderType          *AuthHeaderType   `yaml:"auth_header_type" json:"auth_header_type"`
	IsAzure                 bool              `yaml:"is_azure" json:"is_azure"`
	SkipAzureDetection      bool              `yaml:"skip_azure_detection" json:"skip_azure_detection"`
}

// RequestRetries returns the retry count, defaulted and capped.
func (p ModelProvider) RequestRetries() int {
	if p.RequestMaxRetries == nil {
		return defaultRequestMaxRetries
	}
	n := *p.RequestMaxRetries
	if n < 0 {
		return 0
	}
	if n > maxRequestMaxRetries {
		return maxRequestMaxRetries
	}
	return n
}

// StreamIdleTimeout returns how long a stream may go without a frame.
func (p ModelProvider) StreamIdleTimeout() time.Duration {
	if p.StreamIdleTimeoutMS == nil || *p.StreamIdleTimeoutMS <= 0 {
		return defaultStreamIdleTimeout
	}
	return time.Duration(*p.StreamIdleTimeoutMS) * time.Millisecond
}

var azureHostPatterns = []string{
	"openai.azure.com",
	"openai.azure.us",
	"cognitiveservices.azure.",
	"aoai.azure.",
	"azure-api.net",
	"azurefd.net",
	"windows.net/openai",
}

// IsAzureEndpoint reports whether the provider targets Azure. The explicit
// flag wins, then the provider name, then the base URL hostname.
func (p ModelProvider) IsAzureEndpoint() bool {
	if p.IsAzure {
		return true
	}
	if p.SkipAzureDetection {
		return false
	}
	if strings.Contains(strings.ToLower(p.Name), "azure") {
		return true
	}
	lower := strings.ToLower(p.BaseURL)
	for _, pattern := range azureHostPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// EffectiveAuthHeaderType returns the configured header type, or api-key
// for Azure endpoints that authenticate with an env key, or Bearer.
func (p ModelProvider) EffectiveAuthHeaderType() AuthHeaderType {
	if p.AuthHeaderType != nil && !p.AuthHeaderType.IsZero() {
		return *p.AuthHeaderType
	}
	if p.IsAzureEndpoint() && p.EnvKey != "" {
		return APIKeyHeader()
	}
	return BearerHeader()
}

// APIKey reads the provider's env key. Missing and blank values are both
// reported as "".
func (p ModelProvider) APIKey() string {
	if p.EnvKey == "" {
		return ""
	}
	v := os.Getenv(p.EnvKey)
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return v
}

func (p ModelProvider) headers() http.Header {
	h := make(http.Header)
	for name, value := range p.HTTPHeaders {
		setHeaderIfValid(h, name, value)
	}
	for name, envVar := range p.EnvHTTPHeaders {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			setHeaderIfValid(h, name, v)
		}
	}
	return h
}

// ToProvider builds the immutable per-request Provider for the given wire
// protocol and model. Azure base URLs are adjusted to the URL shape each
// protocol expects.
func (p ModelProvider) ToProvider(wire WireAPI, model string) Provider {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if p.IsAzureEndpoint() {
		baseURL = adjustAzureBaseURL(baseURL, wire, model)
	}
	retry := DefaultRetryConfig()
	retry.MaxAttempts = p.RequestRetries()

	query := make(map[string]string, len(p.QueryParams))
	for k, v := range p.QueryParams {
		query[k] = v
	}
	return Provider{
		Name:              p.Name,
		BaseURL:           baseURL,
		QueryParams:       query,
		WireAPI:           wire,
		Headers:           p.headers(),
		Retry:             retry,
		StreamIdleTimeout: p.StreamIdleTimeout(),
	}
}

func adjustAzureBaseURL(baseURL string, wire WireAPI, model string) string {
	base := strings.TrimRight(baseURL, "/")
	switch wire {
	case WireResponses:
		if strings.HasSuffix(base, "/openai/deployments") {
			return strings.TrimSuffix(base, "/deployments")
		}
		return base
	case WireChat:
		switch {
		case strings.HasSuffix(base, "/openai"):
			return base + "/deployments/" + model
		case strings.HasSuffix(base, "/openai/deployments"):
			return base + "/" + model
		}
		return base
	case WireAnthropic:
		u, err := url.Parse(base)
		if err != nil {
			return base
		}
		if i := strings.Index(u.Path, "/openai"); i >= 0 {
			u.Path = u.Path[:i] + "/anthropic/v1"
			return u.String()
		}
		return base
	}
	return base
}

// Provider describes one backend endpoint for the lifetime of a request.
type Provider struct {
	Name              string
	BaseURL           string
	QueryParams       map[string]string
	WireAPI           WireAPI
	Headers           http.Header
	Retry             RetryConfig
	StreamIdleTimeout time.Duration
}

// URLForPath joins path onto the base URL and appends the query parameters.
func (p Provider) URLForPath(path string) string {
	u := strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(p.QueryParams) == 0 {
		return u
	}
	q := url.Values{}
	for k, v := range p.QueryParams {
		q.Set(k, v)
	}
	return u + "?" + q.Encode()
}

// BuiltInProviders returns the providers available without configuration.
// Environment variables are read at call time.
func BuiltInProviders() map[string]ModelProvider {
	azureURL := strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT"))
	if azureURL != "" && !strings.HasSuffix(strings.TrimRight(azureURL, "/"), "/openai/v1") {
		azureURL = strings.TrimRight(azureURL, "/") + "/openai/v1"
	}
	apiKeyHeader := APIKeyHeader()
	xAPIKey := CustomHeader("x-api-key")

	return map[string]ModelProvider{
		"openai": {
			Name:    "OpenAI",
			BaseURL: envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			EnvKey:  "OPENAI_API_KEY",
			WireAPI: WireResponses,
			EnvHTTPHeaders: map[string]string{
				"OpenAI-Organization": "OPENAI_ORGANIZATION",
				"OpenAI-Project":      "OPENAI_PROJECT",
			},
		},
		"azure": {
			Name:    "Azure OpenAI",
			BaseURL: azureURL,
			EnvKey:  "AZURE_OPENAI_API_KEY",
			EnvKeyInstructions: "Set AZURE_OPENAI_ENDPOINT to your resource endpoint and " +
				"AZURE_OPENAI_API_KEY to a key from the Azure Portal, or configure azure_auth.",
			WireAPI:        WireResponses,
			AuthHeaderType: &apiKeyHeader,
			IsAzure:        true,
		},
		"anthropic": {
			Name:           "Anthropic",
			BaseURL:        envOr("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			EnvKey:         "ANTHROPIC_API_KEY",
			WireAPI:        WireAnthropic,
			AuthHeaderType: &xAPIKey,
		},
		"ollama":   localProvider(11434, WireChat),
		"lmstudio": localProvider(1234, WireResponses),
	}
}

func localProvider(port int, wire WireAPI) ModelProvider {
	base := strings.TrimSpace(os.Getenv("LLMWIRE_OSS_BASE_URL"))
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d/v1", port)
	}
	return ModelProvider{
		Name:               "gpt-oss",
		BaseURL:            base,
		WireAPI:            wire,
		SkipAzureDetection: true,
	}
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
