package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 64 * 1024

// newHTTPClient creates an HTTP client suited to long-lived streams. There is
// no overall request timeout; stream liveness is enforced by the idle timer.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second, // connect timeout
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// streamingClient executes one wire request against one provider and hands
// the response body to the adapter's SSE parser.
type streamingClient struct {
	http     *http.Client
	provider Provider
	auth     AuthProvider
	logger   *slog.Logger
}

func (c *streamingClient) stream(ctx context.Context, adapter wireAdapter, req *WireRequest) (*ResponseStream, error) {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &TransportError{SDKError: SDKError{Message: "encode request body", Cause: err}, Kind: TransportBuild}
	}
	url := c.provider.URLForPath(adapter.path())

	resp, err := runWithRetry(ctx, c.provider.Retry, c.logger, func(ctx context.Context, attempt int) (*http.Response, error) {
		return c.execute(ctx, url, payload, req.Header)
	})
	if err != nil {
		return nil, err
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &TransportError{SDKError: SDKError{Message: "decode response body", Cause: err}, Kind: TransportNetwork}
	}

	stream, out := newResponseStream(ctx)
	stream.onClose = func() { body.Close() }
	go adapter.parseStream(ctx, body, c.provider.StreamIdleTimeout, out)
	return stream, nil
}

func (c *streamingClient) execute(ctx context.Context, url string, payload []byte, extra http.Header) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{SDKError: SDKError{Message: "build request", Cause: err}, Kind: TransportBuild}
	}
	for name, values := range c.provider.Headers {
		httpReq.Header[name] = append([]string(nil), values...)
	}
	for name, values := range extra {
		httpReq.Header[name] = append([]string(nil), values...)
	}
	applyAuthHeaders(httpReq.Header, c.auth)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, &TransportError{SDKError: SDKError{Message: "request timed out", Cause: err}, Kind: TransportTimeout}
		}
		return nil, &TransportError{SDKError: SDKError{Message: "send request", Cause: err}, Kind: TransportNetwork}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			Kind:   TransportHTTP,
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   string(raw),
		}
	}
	return resp, nil
}

// decodeBody unwraps zstd and gzip content encodings. The standard client
// only decodes transparently when it negotiated the encoding itself, which
// is not the case behind gateways that compress event streams on their own.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return newDecodedBody(dec, func() { dec.Close() }, resp.Body), nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return newDecodedBody(gz, func() { gz.Close() }, resp.Body), nil
	default:
		return newDecodedBody(resp.Body, nil, resp.Body), nil
	}
}

// decodedBody is an idempotent ReadCloser over a decoder and its source.
type decodedBody struct {
	io.Reader
	release func()
	src     io.Closer
	once    sync.Once
}

func newDecodedBody(r io.Reader, release func(), src io.Closer) *decodedBody {
	return &decodedBody{Reader: r, release: release, src: src}
}

func (b *decodedBody) Close() error {
	var err error
	b.once.Do(func() {
		err = b.src.Close()
		if b.release != nil {
			b.release()
		}
	})
	return err
}

// RateLimitWindow is one usage window reported by the backend.
type RateLimitWindow struct {
	UsedPercent   float64    `json:"used_percent"`
	WindowMinutes *int64     `json:"window_minutes,omitempty"`
	ResetsAt      *time.Time `json:"resets_at,omitempty"`
}

// RateLimitSnapshot collects rate-limit headers from a response.
type RateLimitSnapshot struct {
	Primary           *RateLimitWindow `json:"primary,omitempty"`
	Secondary         *RateLimitWindow `json:"secondary,omitempty"`
	RequestsRemaining *int             `json:"requests_remaining,omitempty"`
	TokensRemaining   *int             `json:"tokens_remaining,omitempty"`
}

// parseRateLimitSnapshot extracts rate limit info from response headers.
func parseRateLimitSnapshot(h http.Header) *RateLimitSnapshot {
	if h == nil {
		return nil
	}
	snap := &RateLimitSnapshot{
		Primary:   parseRateLimitWindow(h, "primary"),
		Secondary: parseRateLimitWindow(h, "secondary"),
	}
	hasAny := snap.Primary != nil || snap.Secondary != nil

	if v := h.Get("x-ratelimit-remaining-requests"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.RequestsRemaining = &n
			hasAny = true
		}
	}
	if v := h.Get("x-ratelimit-remaining-tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.TokensRemaining = &n
			hasAny = true
		}
	}
	if !hasAny {
		return nil
	}
	return snap
}

func parseRateLimitWindow(h http.Header, which string) *RateLimitWindow {
	prefix := fmt.Sprintf("x-codex-%s-", which)
	used, err := strconv.ParseFloat(h.Get(prefix+"used-percent"), 64)
	if err != nil {
		return nil
	}
	w := &RateLimitWindow{UsedPercent: used}
	if n, err := strconv.ParseInt(h.Get(prefix+"window-minutes"), 10, 64); err == nil {
		w.WindowMinutes = &n
	}
	if n, err := strconv.ParseInt(h.Get(prefix+"reset-at"), 10, 64); err == nil {
		t := time.Unix(n, 0)
		w.ResetsAt = &t
	}
	return w
}
