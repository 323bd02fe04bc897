package unifiedllm

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Client streams model responses from one configured provider. It picks the
// wire protocol, resolves credentials for every attempt and performs the
// one-shot token refresh on HTTP 401.
type Client struct {
	provider       ModelProvider
	model          string
	http           *http.Client
	tokens         TokenSource
	wireOverride   WireAPI
	effort         ReasoningEffort
	summary        ReasoningSummary
	verbosity      Verbosity
	conversationID string
	subagent       string
	maxOutput      int
	logger         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTokenSource attaches a refreshable bearer token backend, typically a
// cloud identity credential.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithWireAPI forces a wire protocol regardless of provider and model.
func WithWireAPI(wire WireAPI) ClientOption {
	return func(c *Client) {
		c.wireOverride = wire
	}
}

// WithReasoning sets the reasoning effort and summary mode.
func WithReasoning(effort ReasoningEffort, summary ReasoningSummary) ClientOption {
	return func(c *Client) {
		c.effort = effort
		c.summary = summary
	}
}

// WithVerbosity sets the output verbosity hint.
func WithVerbosity(v Verbosity) ClientOption {
	return func(c *Client) {
		c.verbosity = v
	}
}

// WithConversationID sets the id sent in correlation headers and used as
// the prompt cache key.
func WithConversationID(id string) ClientOption {
	return func(c *Client) {
		c.conversationID = id
	}
}

// WithSubagent tags requests as coming from a named subagent.
func WithSubagent(name string) ClientOption {
	return func(c *Client) {
		c.subagent = name
	}
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxOutputTokens caps the response length.
func WithMaxOutputTokens(n int) ClientOption {
	return func(c *Client) {
		c.maxOutput = n
	}
}

// NewClient creates a Client for provider and model.
func NewClient(provider ModelProvider, model string, opts ...ClientOption) *Client {
	c := &Client{
		provider:       provider,
		model:          model,
		conversationID: uuid.New().String(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient()
	}
	return c
}

// Model returns the model name requests are sent for.
func (c *Client) Model() string { return c.model }

// Provider returns the provider configuration.
func (c *Client) Provider() ModelProvider { return c.provider }

// ConversationID returns the id used for correlation headers.
func (c *Client) ConversationID() string { return c.conversationID }

// EffectiveWireAPI returns the wire protocol requests will use. An explicit
// override wins. Azure endpoints host several vendors, so the model name
// picks the protocol there; everywhere else the provider's setting applies.
func (c *Client) EffectiveWireAPI() WireAPI {
	if c.wireOverride != "" {
		return c.wireOverride
	}
	if c.provider.IsAzureEndpoint() {
		return WireAPIForModel(c.model)
	}
	if c.provider.WireAPI != "" {
		return c.provider.WireAPI
	}
	return WireResponses
}

// resolveAuth returns the credentials for one attempt.
func (c *Client) resolveAuth(ctx context.Context) (AuthProvider, error) {
	headerType := c.provider.EffectiveAuthHeaderType()
	if key := c.provider.APIKey(); key != "" {
		return StaticAuth{Key: key, HeaderType: headerType}, nil
	}
	if token := c.provider.ExperimentalBearerToken; token != "" {
		return StaticAuth{Token: token, HeaderType: headerType}, nil
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &AuthenticationError{SDKError: SDKError{Message: "acquire token", Cause: err}}
		}
		return StaticAuth{Token: token, HeaderType: BearerHeader()}, nil
	}
	if c.provider.IsAzureEndpoint() {
		msg := "no credentials configured for Azure endpoint"
		if c.provider.EnvKeyInstructions != "" {
			msg += ": " + c.provider.EnvKeyInstructions
		}
		return nil, &AuthenticationError{SDKError: SDKError{Message: msg}}
	}
	return StaticAuth{}, nil
}

func (c *Client) requestOptions(wire WireAPI) RequestOptions {
	return RequestOptions{
		Model:            c.model,
		ReasoningEffort:  c.effort,
		ReasoningSummary: c.summary,
		Verbosity:        c.verbosity,
		ConversationID:   c.conversationID,
		Subagent:         c.subagent,
		MaxOutputTokens:  c.maxOutput,
		// Azure does not keep reasoning items server side unless stored.
		Store: wire == WireResponses && c.provider.IsAzureEndpoint(),
	}
}

// Stream sends prompt and returns a stream of canonical events. Errors,
// both returned and carried by EventError, use the caller-facing taxonomy.
func (c *Client) Stream(ctx context.Context, prompt Prompt) (*ResponseStream, error) {
	wire := c.EffectiveWireAPI()
	adapter := adapterFor(wire, c.logger)
	req, err := adapter.buildRequest(prompt, c.requestOptions(wire))
	if err != nil {
		return nil, err
	}
	provider := c.provider.ToProvider(wire, c.model)

	c.logger.Debug("starting stream",
		"provider", provider.Name, "wire", wire, "model", c.model, "url", provider.URLForPath(adapter.path()))

	refreshed := false
	for {
		auth, err := c.resolveAuth(ctx)
		if err != nil {
			return nil, err
		}
		sc := &streamingClient{http: c.http, provider: provider, auth: auth, logger: c.logger}
		inner, err := sc.stream(ctx, adapter, req)
		if err == nil {
			return mapStream(ctx, inner), nil
		}
		if IsUnauthorized(err) && c.tokens != nil && !refreshed {
			c.logger.Debug("received 401, refreshing token and retrying once")
			c.tokens.ClearCachedToken()
			refreshed = true
			continue
		}
		return nil, MapError(err)
	}
}

// mapStream forwards inner into a new stream, mapping error events.
func mapStream(ctx context.Context, inner *ResponseStream) *ResponseStream {
	outer, out := newResponseStream(ctx)
	outer.onClose = inner.Close
	go func() {
		defer out.close()
		defer inner.Close()
		for {
			select {
			case <-out.done:
				return
			case <-ctx.Done():
				return
			case ev, ok := <-inner.Events():
				if !ok {
					return
				}
				if ev.Type == EventError {
					ev.Err = MapError(ev.Err)
				}
				if !out.send(ev) {
					return
				}
			}
		}
	}()
	return outer
}
