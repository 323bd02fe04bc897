// Package azureauth acquires Azure Entra ID access tokens for Azure-hosted
// model endpoints. A Credential satisfies unifiedllm.TokenSource, so it can
// be passed to unifiedllm.WithTokenSource.
package azureauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	defaultIMDSEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion      = "2019-08-01"
	imdsTimeout         = 5 * time.Second
	tokenClientTimeout  = 30 * time.Second
	cliTokenLayout      = "2006-01-02 15:04:05.999999"
	cliDefaultLifetime  = time.Hour
)

// CommandRunner runs an external program and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Credential obtains and caches access tokens for one Config. It is safe
// for concurrent use.
type Credential struct {
	cfg     Config
	cache   *TokenCache
	http    *http.Client
	imds    string
	run     CommandRunner
	minPoll time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Credential.
type Option func(*Credential)

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Credential) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithIMDSEndpoint overrides the instance metadata token URL.
func WithIMDSEndpoint(endpoint string) Option {
	return func(c *Credential) { c.imds = endpoint }
}

// WithCommandRunner replaces the runner used to invoke the Azure CLI.
func WithCommandRunner(run CommandRunner) Option {
	return func(c *Credential) {
		if run != nil {
			c.run = run
		}
	}
}

// WithMinPollInterval sets the shortest device code polling interval.
func WithMinPollInterval(d time.Duration) Option {
	return func(c *Credential) { c.minPoll = d }
}

// WithSleep replaces the function used to wait between device code polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Credential) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithClock sets the time source for expiry calculations.
func WithClock(now func() time.Time) Option {
	return func(c *Credential) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTokenCache shares a cache between credentials.
func WithTokenCache(cache *TokenCache) Option {
	return func(c *Credential) { c.cache = cache }
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Credential) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCredential returns a Credential for cfg.
func NewCredential(cfg Config, opts ...Option) *Credential {
	c := &Credential{
		cfg:     cfg,
		http:    &http.Client{Timeout: tokenClientTimeout},
		imds:    defaultIMDSEndpoint,
		run:     runCommand,
		minPoll: 5 * time.Second,
		sleep:   sleepContext,
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = &TokenCache{now: c.now}
	}
	return c
}

// Config returns the credential's configuration.
func (c *Credential) Config() Config { return c.cfg }

// Token returns a cached token, or acquires a new one using the configured
// mode.
func (c *Credential) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cache.Get(); ok {
		c.logger.Debug("using cached azure token")
		return tok, nil
	}
	c.logger.Debug("acquiring azure token", "mode", c.cfg.Mode.String())
	return c.acquire(ctx)
}

// RefreshToken drops the cached token and acquires a new one.
func (c *Credential) RefreshToken(ctx context.Context) (string, error) {
	c.ClearCachedToken()
	return c.acquire(ctx)
}

// ClearCachedToken forces the next Token call to acquire a new token.
func (c *Credential) ClearCachedToken() {
	c.logger.Debug("clearing cached azure token")
	c.cache.Clear()
}

func (c *Credential) acquire(ctx context.Context) (string, error) {
	switch c.cfg.Kind {
	case ModeDefault, "":
		return c.acquireDefault(ctx)
	case ModeDeviceCode:
		return "", invalidConfig("device code flow requires interactive login; use AcquireWithDeviceCode")
	case ModeManagedIdentity:
		return c.acquireManagedIdentity(ctx, c.cfg.ClientID)
	case ModeClientSecret:
		return c.acquireClientSecret(ctx, c.cfg.TenantID, c.cfg.ClientID, c.cfg.ClientSecret)
	case ModeClientCertificate:
		return "", invalidConfig("certificate authentication not yet implemented")
	case ModeAzureCLI:
		return c.acquireAzureCLI(ctx)
	case ModeEnvironment:
		return c.acquireEnvironment(ctx)
	}
	return "", invalidConfig("unknown mode %q", c.cfg.Kind)
}

// acquireDefault tries environment credentials, managed identity and the
// Azure CLI in that order.
func (c *Credential) acquireDefault(ctx context.Context) (string, error) {
	sources := []struct {
		name    string
		acquire func(context.Context) (string, error)
	}{
		{"environment", c.acquireEnvironment},
		{"managed_identity", func(ctx context.Context) (string, error) { return c.acquireManagedIdentity(ctx, "") }},
		{"azure_cli", c.acquireAzureCLI},
	}

	var errs []error
	for _, src := range sources {
		tok, err := src.acquire(ctx)
		if err == nil {
			c.logger.Debug("acquired azure token", "source", src.name)
			return tok, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Debug("azure credential source failed", "source", src.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
	}
	return "", &AcquisitionError{
		Source: "default",
		Message: "all credential sources failed; log in with the Azure CLI, set AZURE_CLIENT_ID, " +
			"AZURE_CLIENT_SECRET and AZURE_TENANT_ID, or run in Azure with a managed identity",
		Cause: errors.Join(errs...),
	}
}

func (c *Credential) acquireEnvironment(ctx context.Context) (string, error) {
	vals := map[string]string{}
	for _, name := range []string{"AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET", "AZURE_TENANT_ID"} {
		v := os.Getenv(name)
		if v == "" {
			return "", &AcquisitionError{Source: "environment", Message: name + " not set"}
		}
		vals[name] = v
	}
	return c.acquireClientSecret(ctx, vals["AZURE_TENANT_ID"], vals["AZURE_CLIENT_ID"], vals["AZURE_CLIENT_SECRET"])
}

func (c *Credential) acquireClientSecret(ctx context.Context, tenantID, clientID, secret string) (string, error) {
	if secret == "" {
		secret = os.Getenv("AZURE_CLIENT_SECRET")
	}
	if secret == "" {
		return "", invalidConfig("client secret not provided and AZURE_CLIENT_SECRET not set")
	}
	if tenantID == "" || clientID == "" {
		return "", invalidConfig("client_secret mode requires tenant_id and client_id")
	}

	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {secret},
		"scope":         {c.cfg.EffectiveScope()},
		"grant_type":    {"client_credentials"},
	}
	status, body, err := c.postForm(ctx, c.tokenURL(tenantID), form)
	if err != nil {
		return "", &AcquisitionError{Source: "client_secret", Message: "token request failed", Cause: err}
	}
	if status/100 != 2 {
		return "", &AcquisitionError{Source: "client_secret", Message: fmt.Sprintf("HTTP %d: %s", status, body)}
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &AcquisitionError{Source: "client_secret", Message: "decoding token response", Cause: err}
	}
	return c.store(tr), nil
}

func (c *Credential) acquireManagedIdentity(ctx context.Context, clientID string) (string, error) {
	q := url.Values{
		"api-version": {imdsAPIVersion},
		"resource":    {strings.TrimSuffix(c.cfg.EffectiveScope(), "/.default")},
	}
	if clientID != "" {
		q.Set("client_id", clientID)
	}

	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.imds+"?"+q.Encode(), nil)
	if err != nil {
		return "", &AcquisitionError{Source: "managed_identity", Message: "building request", Cause: err}
	}
	req.Header.Set("Metadata", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &AcquisitionError{Source: "managed_identity", Message: "metadata endpoint unreachable", Cause: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", &AcquisitionError{
			Source:  "managed_identity",
			Message: fmt.Sprintf("managed identity request failed - HTTP %d: %s", resp.StatusCode, body),
		}
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &AcquisitionError{Source: "managed_identity", Message: "decoding token response", Cause: err}
	}
	return c.store(tr), nil
}

type cliToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
	ExpiresOnTS *int64 `json:"expires_on"`
}

func (c *Credential) acquireAzureCLI(ctx context.Context) (string, error) {
	args := []string{"account", "get-access-token", "--scope", c.cfg.EffectiveScope(), "--output", "json"}
	name := "az"
	if runtime.GOOS == "windows" {
		// az is a batch script on Windows.
		name = "cmd"
		args = append([]string{"/C", "az"}, args...)
	}

	out, err := c.run(ctx, name, args...)
	if err != nil {
		return "", &AcquisitionError{Source: "azure_cli", Message: "az account get-access-token failed", Cause: err}
	}
	var tok cliToken
	if err := json.Unmarshal(out, &tok); err != nil {
		return "", &AcquisitionError{Source: "azure_cli", Message: "decoding az output", Cause: err}
	}
	if tok.AccessToken == "" {
		return "", &AcquisitionError{Source: "azure_cli", Message: "az output has no accessToken"}
	}

	now := c.now()
	expiresAt := now.Add(cliDefaultLifetime)
	switch {
	case tok.ExpiresOnTS != nil:
		expiresAt = time.Unix(*tok.ExpiresOnTS, 0)
	case tok.ExpiresOn != "":
		if t, err := time.ParseInLocation(cliTokenLayout, tok.ExpiresOn, time.Local); err == nil && t.After(now) {
			expiresAt = t
		}
	}
	c.cache.PutUntil(tok.AccessToken, expiresAt)
	return tok.AccessToken, nil
}

func (c *Credential) tokenURL(tenantID string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.cfg.EffectiveAuthority(), tenantID)
}

// postForm sends a form-encoded POST and returns the status and body.
func (c *Credential) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// store caches a token endpoint reply and returns its access token.
func (c *Credential) store(tr tokenResponse) string {
	c.cache.Put(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	return tr.AccessToken
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   flexSeconds `json:"expires_in"`
	TokenType   string      `json:"token_type"`
}

// flexSeconds accepts a JSON number or a numeric string. The metadata
// endpoint sends strings.
type flexSeconds int64

func (s *flexSeconds) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*s = flexSeconds(n)
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
