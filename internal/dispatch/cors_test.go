package dispatch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSResolveOrigin(t *testing.T) {
	tests := []struct {
		name          string
		origins       []string
		requestOrigin string
		want          string
	}{
		{
			name:          "unset origins use wildcard",
			origins:       nil,
			requestOrigin: "https://a.com",
			want:          "*",
		},
		{
			name:          "single origin always echoed",
			origins:       []string{"https://app.example.com"},
			requestOrigin: "https://elsewhere.com",
			want:          "https://app.example.com",
		},
		{
			name:          "listed origin echoed back",
			origins:       []string{"https://a.com", "https://b.com"},
			requestOrigin: "https://b.com",
			want:          "https://b.com",
		},
		{
			name:          "unlisted origin falls back to first entry",
			origins:       []string{"https://a.com", "https://b.com"},
			requestOrigin: "https://x.com",
			want:          "https://a.com",
		},
		{
			name:          "empty request origin falls back to first entry",
			origins:       []string{"https://a.com", "https://b.com"},
			requestOrigin: "",
			want:          "https://a.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &CORSConfig{Origins: tt.origins}
			assert.Equal(t, tt.want, cfg.ResolveOrigin(tt.requestOrigin))
		})
	}
}

func TestCORSApplyDefaults(t *testing.T) {
	cfg := &CORSConfig{}
	h := make(http.Header)
	cfg.Apply(h, "https://a.com")

	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, PATCH, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Accept, Authorization, Content-Type, X-Request-ID", h.Get("Access-Control-Allow-Headers"))
	assert.Empty(t, h.Get("Access-Control-Allow-Credentials"))
}

func TestCORSApplyConfigured(t *testing.T) {
	cfg := &CORSConfig{
		Origins:     []string{"https://a.com"},
		Methods:     []string{"GET", "POST"},
		Headers:     []string{"Content-Type"},
		Credentials: true,
	}
	h := make(http.Header)
	cfg.Apply(h, "https://x.com")

	assert.Equal(t, "https://a.com", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", h.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))
}
