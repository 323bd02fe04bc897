package unifiedllm

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAuthHeaderType(t *testing.T) {
	tests := []struct {
		in   string
		want AuthHeaderType
	}{
		{"bearer", BearerHeader()},
		{"Bearer", BearerHeader()},
		{"api_key", APIKeyHeader()},
		{"api-key", APIKeyHeader()},
		{"custom:x-api-key", CustomHeader("x-api-key")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAuthHeaderType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"basic", "custom:"} {
		_, err := ParseAuthHeaderType(bad)
		assert.Error(t, err, bad)
	}
}

func TestAuthHeaderTypeYAML(t *testing.T) {
	var cfg struct {
		Header AuthHeaderType `yaml:"header"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("header: custom:x-api-key\n"), &cfg))
	assert.Equal(t, CustomHeader("x-api-key"), cfg.Header)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "custom:x-api-key")
}

func TestApplyAuthHeaders(t *testing.T) {
	t.Run("bearer", func(t *testing.T) {
		h := http.Header{}
		applyAuthHeaders(h, StaticAuth{Token: "tok", Account: "acct"})
		assert.Equal(t, "Bearer tok", h.Get("Authorization"))
		assert.Equal(t, "acct", h.Get("ChatGPT-Account-ID"))
		assert.Empty(t, h.Get("api-key"))
	})

	t.Run("api key", func(t *testing.T) {
		h := http.Header{}
		applyAuthHeaders(h, StaticAuth{Key: "k", HeaderType: APIKeyHeader()})
		assert.Equal(t, "k", h.Get("api-key"))
		assert.Empty(t, h.Get("Authorization"))
	})

	t.Run("api key falls back to token", func(t *testing.T) {
		h := http.Header{}
		applyAuthHeaders(h, StaticAuth{Token: "t", HeaderType: APIKeyHeader()})
		assert.Equal(t, "t", h.Get("api-key"))
	})

	t.Run("custom", func(t *testing.T) {
		h := http.Header{}
		applyAuthHeaders(h, StaticAuth{Key: "k", HeaderType: CustomHeader("x-api-key")})
		assert.Equal(t, "k", h.Get("x-api-key"))
		assert.Empty(t, h.Get("Authorization"))
	})

	t.Run("invalid values are skipped", func(t *testing.T) {
		h := http.Header{}
		applyAuthHeaders(h, StaticAuth{Token: "bad\ntoken"})
		assert.Empty(t, h.Get("Authorization"))

		h = http.Header{}
		applyAuthHeaders(h, StaticAuth{Key: "k", HeaderType: CustomHeader("bad header")})
		assert.Empty(t, h)
	})

	t.Run("none", func(t *testing.T) {
		h := http.Header{}
		applyAuthHeaders(h, StaticAuth{})
		assert.Empty(t, h)
		applyAuthHeaders(h, nil)
		assert.Empty(t, h)
	})
}
