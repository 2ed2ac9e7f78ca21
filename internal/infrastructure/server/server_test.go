package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GriffinCanCode/webshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/webshell/internal/providers/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Terminal.Shell = "/bin/sh"
	hash, err := auth.HashToken("s3cret")
	require.NoError(t, err)
	cfg.Auth.Tokens = map[string]string{"alice": hash}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, s.Close())
	})
	return s, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServerRoutes(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "/ws/terminal")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"healthy"`)

	resp, _ = get(t, ts.URL+"/api/terminal/session")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "webshell_http_requests_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestServerWebSocketRequiresUpgrade(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, _ := get(t, ts.URL+"/ws/terminal")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerRateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 1
		cfg.RateLimit.Burst = 1
	})

	resp, _ := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServerCORS(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"https://app.example"}
	})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Tokens = map[string]string{"alice": "not-a-hash"}
	_, err := NewServer(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Logging.Level = "verbose"
	_, err = NewServer(cfg)
	assert.Error(t, err)
}

func TestServerCloseIdempotent(t *testing.T) {
	s, _ := newTestServer(t, nil)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, s.Registry().ActiveCount())

	_, _, err := s.Registry().GetOrCreate("alice", 80, 24)
	assert.Error(t, err, "no sessions after shutdown")
}
