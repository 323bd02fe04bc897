package unifiedllm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// AuthHeaderKind selects which header carries a credential.
type AuthHeaderKind string

const (
	AuthBearer AuthHeaderKind = "bearer"
	AuthAPIKey AuthHeaderKind = "api_key"
	AuthCustom AuthHeaderKind = "custom"
)

// AuthHeaderType places a credential in a request:
//
//   - Bearer: "Authorization: Bearer <token>"
//   - APIKey: "api-key: <key>"
//   - Custom: "<Name>: <key>", for gateways with their own header
type AuthHeaderType struct {
	Kind AuthHeaderKind
	Name string // header name, only for AuthCustom
}

// BearerHeader returns the Bearer header type.
func BearerHeader() AuthHeaderType { return AuthHeaderType{Kind: AuthBearer} }

// APIKeyHeader returns the api-key header type.
func APIKeyHeader() AuthHeaderType { return AuthHeaderType{Kind: AuthAPIKey} }

// CustomHeader returns a header type that uses the given header name.
func CustomHeader(name string) AuthHeaderType {
	return AuthHeaderType{Kind: AuthCustom, Name: name}
}

// IsZero reports whether the header type was left unset.
func (t AuthHeaderType) IsZero() bool { return t.Kind == "" }

func (t AuthHeaderType) String() string {
	switch t.Kind {
	case AuthCustom:
		return "custom:" + t.Name
	case "":
		return string(AuthBearer)
	default:
		return string(t.Kind)
	}
}

// ParseAuthHeaderType parses "bearer", "api_key" or "custom:<Header-Name>".
func ParseAuthHeaderType(s string) (AuthHeaderType, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "bearer"):
		return BearerHeader(), nil
	case strings.EqualFold(s, "api_key") || strings.EqualFold(s, "api-key"):
		return APIKeyHeader(), nil
	case strings.HasPrefix(strings.ToLower(s), "custom:"):
		name := strings.TrimSpace(s[len("custom:"):])
		if name == "" {
			return AuthHeaderType{}, fmt.Errorf("custom auth header type requires a header name")
		}
		return CustomHeader(name), nil
	default:
		return AuthHeaderType{}, fmt.Errorf("unknown auth header type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t AuthHeaderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AuthHeaderType) UnmarshalText(b []byte) error {
	parsed, err := ParseAuthHeaderType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AuthProvider supplies the credentials attached to a single request.
// Implementations must be safe for concurrent use and must not block; any
// token acquisition happens before a request is built. An empty string
// means "none".
type AuthProvider interface {
	BearerToken() string
	APIKey() string
	AuthHeaderType() AuthHeaderType
	AccountID() string
}

// TokenSource is a refreshable credential backend such as a cloud identity.
type TokenSource interface {
	// Token returns a valid token, acquiring a new one when the cache misses.
	Token(ctx context.Context) (string, error)
	// ClearCachedToken forces the next Token call to acquire a new token.
	ClearCachedToken()
}

// StaticAuth is an AuthProvider backed by fixed values.
type StaticAuth struct {
	Token      string
	Key        string
	HeaderType AuthHeaderType
	Account    string
}

func (a StaticAuth) BearerToken() string { return a.Token }

// APIKey returns Key, falling back to the bearer token.
func (a StaticAuth) APIKey() string {
	if a.Key != "" {
		return a.Key
	}
	return a.Token
}

func (a StaticAuth) AuthHeaderType() AuthHeaderType {
	if a.HeaderType.IsZero() {
		return BearerHeader()
	}
	return a.HeaderType
}

func (a StaticAuth) AccountID() string { return a.Account }

// applyAuthHeaders sets exactly one credential header on h. Values that are
// not valid in an HTTP header are skipped rather than failing the request.
func applyAuthHeaders(h http.Header, auth AuthProvider) {
	if auth == nil {
		return
	}
	ht := auth.AuthHeaderType()
	switch ht.Kind {
	case AuthAPIKey:
		setHeaderIfValid(h, "api-key", auth.APIKey())
	case AuthCustom:
		setHeaderIfValid(h, ht.Name, auth.APIKey())
	default:
		if token := auth.BearerToken(); token != "" {
			setHeaderIfValid(h, "Authorization", "Bearer "+token)
		}
	}
	setHeaderIfValid(h, "ChatGPT-Account-ID", auth.AccountID())
}

func setHeaderIfValid(h http.Header, name, value string) {
	if value == "" || !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return
	}
	h.Set(name, value)
}
