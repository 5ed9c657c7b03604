package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/observability"
)

func testMiddlewareLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func sessionTestServer(t *testing.T, sessions *auth.SessionManager, local bool) *httptest.Server {
	t.Helper()
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("reached"))
	})
	srv := httptest.NewServer(Session(sessions, local, testMiddlewareLogger())(handler))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSession_LocalModeRunsOpen(t *testing.T) {
	sessions := auth.NewSessionManager(config.AuthConfig{})
	srv := sessionTestServer(t, sessions, true)

	resp := get(t, srv.URL, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSession_MissingCookieRejected(t *testing.T) {
	sessions := auth.NewSessionManager(config.AuthConfig{SessionSecret: "s", SessionTTL: time.Hour})
	srv := sessionTestServer(t, sessions, false)

	resp := get(t, srv.URL, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSession_InvalidCookieRejected(t *testing.T) {
	sessions := auth.NewSessionManager(config.AuthConfig{SessionSecret: "s", SessionTTL: time.Hour})
	srv := sessionTestServer(t, sessions, false)

	resp := get(t, srv.URL, &http.Cookie{Name: auth.SessionCookie, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSession_ValidCookiePasses(t *testing.T) {
	sessions := auth.NewSessionManager(config.AuthConfig{SessionSecret: "s", SessionTTL: time.Hour})
	srv := sessionTestServer(t, sessions, false)

	token, err := sessions.Mint()
	require.NoError(t, err)

	resp := get(t, srv.URL, &http.Cookie{Name: auth.SessionCookie, Value: token})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	})
	srv := httptest.NewServer(CORS([]string{"*"})(handler))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://example.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORS_DisallowedOriginGetsNoHeaders(t *testing.T) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(CORS([]string{"https://allowed.test"})(handler))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://other.test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
