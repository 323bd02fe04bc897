package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SDKError is the base error type for all llmwire errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// Errors produced by adapters and the transport.

type ContextWindowExceededError struct{ SDKError }
type QuotaExceededError struct{ SDKError }
type UsageNotIncludedError struct{ SDKError }
type RateLimitedError struct{ SDKError }

// UsageLimitReachedError is returned when a plan's usage allowance is spent.
type UsageLimitReachedError struct {
	SDKError
	PlanType   string
	ResetsAt   *time.Time
	RateLimits *RateLimitSnapshot
}

func (e *UsageLimitReachedError) Error() string {
	msg := "usage limit reached"
	if e.PlanType != "" {
		msg += " for plan " + e.PlanType
	}
	if e.ResetsAt != nil {
		msg += ", resets at " + e.ResetsAt.UTC().Format(time.RFC3339)
	}
	return msg
}

// RetryableError is a backend failure that the caller may retry, optionally
// after Delay.
type RetryableError struct {
	SDKError
	Delay *time.Duration
}

// StreamError is a failure while reading a response stream.
type StreamError struct {
	SDKError
	Delay *time.Duration
}

// APIError is a structured error reported by the backend itself.
type APIError struct {
	SDKError
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status=%d): %s", e.Status, e.Message)
}

// TransportErrorKind classifies a TransportError.
type TransportErrorKind string

const (
	TransportHTTP       TransportErrorKind = "http"
	TransportRetryLimit TransportErrorKind = "retry_limit"
	TransportTimeout    TransportErrorKind = "timeout"
	TransportNetwork    TransportErrorKind = "network"
	TransportBuild      TransportErrorKind = "build"
)

// TransportError is a failure below the wire protocol: a non-success HTTP
// status, exhausted retries, a timeout, a network fault, or a request that
// could not be built.
type TransportError struct {
	SDKError
	Kind   TransportErrorKind
	Status int
	Header http.Header
	Body   string
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportHTTP:
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	case TransportRetryLimit:
		return "retry limit reached"
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.SDKError.Error())
	}
}

// Caller-facing errors produced by MapError.

type InvalidRequestError struct{ SDKError }
type InternalServerError struct{ SDKError }
type TimeoutError struct{ SDKError }
type AuthenticationError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// RetryLimitError means the backend kept rejecting the request.
type RetryLimitError struct {
	SDKError
	Status    int
	RequestID string
}

func (e *RetryLimitError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("exceeded retry limit, last status: %d, request id: %s", e.Status, e.RequestID)
	}
	return fmt.Sprintf("exceeded retry limit, last status: %d", e.Status)
}

// UnexpectedStatusError is any HTTP failure without a more specific mapping.
type UnexpectedStatusError struct {
	SDKError
	Status    int
	Body      string
	RequestID string
}

func (e *UnexpectedStatusError) Error() string {
	msg := fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
	if e.RequestID != "" {
		msg += ", request id: " + e.RequestID
	}
	return msg
}

// MapError translates adapter and transport errors into the caller-facing
// taxonomy. Errors that are already caller-facing pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return mapTransportError(te)
	}
	switch e := err.(type) {
	case *RetryableError:
		return &StreamError{SDKError: e.SDKError, Delay: e.Delay}
	case *RateLimitedError:
		return &StreamError{SDKError: e.SDKError}
	case *APIError:
		return &UnexpectedStatusError{SDKError: e.SDKError, Status: e.Status, Body: e.Message}
	}
	return err
}

func mapTransportError(te *TransportError) error {
	switch te.Kind {
	case TransportHTTP:
		return mapHTTPStatus(te)
	case TransportRetryLimit:
		return &RetryLimitError{Status: http.StatusInternalServerError, RequestID: extractRequestID(te.Header)}
	case TransportTimeout:
		msg := te.Message
		if msg == "" {
			msg = "request timed out"
		}
		return &TimeoutError{SDKError: SDKError{Message: msg, Cause: te.Cause}}
	default:
		return &StreamError{SDKError: SDKError{Message: te.SDKError.Error()}}
	}
}

// usageErrorBody is the 429 body shape that carries plan information.
type usageErrorBody struct {
	Error struct {
		Type     string `json:"type"`
		PlanType string `json:"plan_type"`
		ResetsAt *int64 `json:"resets_at"`
	} `json:"error"`
}

func mapHTTPStatus(te *TransportError) error {
	requestID := extractRequestID(te.Header)
	switch te.Status {
	case http.StatusBadRequest:
		return &InvalidRequestError{SDKError: SDKError{Message: te.Body}}
	case http.StatusInternalServerError:
		return &InternalServerError{SDKError: SDKError{Message: te.Body}}
	case http.StatusTooManyRequests:
		var body usageErrorBody
		if err := json.Unmarshal([]byte(te.Body), &body); err == nil {
			switch body.Error.Type {
			case "usage_limit_reached":
				e := &UsageLimitReachedError{
					PlanType:   body.Error.PlanType,
					RateLimits: parseRateLimitSnapshot(te.Header),
				}
				if body.Error.ResetsAt != nil {
					t := time.Unix(*body.Error.ResetsAt, 0)
					e.ResetsAt = &t
				}
				return e
			case "usage_not_included":
				return &UsageNotIncludedError{SDKError: SDKError{Message: "usage not included in plan"}}
			}
		}
		return &RetryLimitError{Status: te.Status, RequestID: requestID}
	default:
		return &UnexpectedStatusError{Status: te.Status, Body: te.Body, RequestID: requestID}
	}
}

// extractRequestID returns the first correlation id found in headers.
func extractRequestID(h http.Header) string {
	if h == nil {
		return ""
	}
	for _, name := range []string{"cf-ray", "x-request-id", "x-oai-request-id"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// IsUnauthorized reports whether err is an HTTP 401, before or after mapping.
func IsUnauthorized(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind == TransportHTTP && te.Status == http.StatusUnauthorized
	}
	var ue *UnexpectedStatusError
	if errors.As(err, &ue) {
		return ue.Status == http.StatusUnauthorized
	}
	return false
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch e := err.(type) {
	case *TransportError:
		switch e.Kind {
		case TransportHTTP:
			return e.Status == http.StatusTooManyRequests || e.Status >= 500
		case TransportBuild:
			return false
		default:
			return true
		}
	case *ContextWindowExceededError:
		return false
	case *QuotaExceededError:
		return false
	case *UsageNotIncludedError:
		return false
	case *UsageLimitReachedError:
		return false
	case *InvalidRequestError:
		return false
	case *AuthenticationError:
		return false
	case *ConfigurationError:
		return false
	case *UnexpectedStatusError:
		return e.Status >= 500
	case *RetryableError, *StreamError, *RateLimitedError:
		return true
	case *RetryLimitError, *InternalServerError, *TimeoutError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}
