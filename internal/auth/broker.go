// Package auth acquires and holds the two credentials batch calls need:
// an audience-bound OIDC identity token for the model-facing endpoint and
// the session cookie issued by POST /login. It also mints and validates
// the session tokens the API side puts in that cookie.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/observability"
)

// loginTimeout caps the login round trip. Batch calls carry their own,
// much longer deadlines on the request context.
const loginTimeout = 30 * time.Second

// Broker owns the authenticated HTTP state for a remote treadline API:
// a cookie jar holding the session cookie and an identity provider for
// the Authorization header. In local mode every method is a no-op and
// requests go out bare.
type Broker struct {
	baseURL  string
	loginURL *url.URL
	password string
	local    bool
	identity *IdentityProvider
	client   *http.Client
	logger   *observability.Logger
}

// NewBroker creates a broker for the API at baseURL. The returned broker
// is not yet logged in; call Login before issuing session-guarded calls.
func NewBroker(baseURL string, cfg config.AuthConfig, identity *IdentityProvider, logger *observability.Logger) (*Broker, error) {
	trimmed := strings.TrimRight(baseURL, "/")
	loginURL, err := url.Parse(trimmed + "/login")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Broker{
		baseURL:  trimmed,
		loginURL: loginURL,
		password: cfg.ServicePassword,
		local:    cfg.Mode == "local",
		identity: identity,
		client:   &http.Client{Jar: jar}, // no timeout; per-call ctx governs
		logger:   logger.WithOperation("auth"),
	}, nil
}

// Client returns the HTTP client carrying the session cookie jar. Callers
// issuing session-guarded requests must use this client so the cookie
// rides along.
func (b *Broker) Client() *http.Client {
	return b.client
}

// Authorize attaches the identity token to req. Requests stay bare when
// the provider yields an empty token (local mode).
func (b *Broker) Authorize(ctx context.Context, req *http.Request) error {
	if b.identity == nil {
		return nil
	}
	token, err := b.identity.IdentityToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// Login posts the service password and verifies a session cookie was set.
// In local mode it returns immediately.
func (b *Broker) Login(ctx context.Context) error {
	if b.local {
		b.logger.Debug().Msg("local mode, skipping login")
		return nil
	}

	b.logger.Info().Str("url", b.baseURL).Msg("logging in")

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	form := url.Values{"password": {b.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.loginURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := b.Authorize(ctx, req); err != nil {
		return fmt.Errorf("authorize login: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send login request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("login rejected: %s (status %d)", errResp.Error, resp.StatusCode)
		}
		return fmt.Errorf("login failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	if len(b.client.Jar.Cookies(b.loginURL)) == 0 {
		return fmt.Errorf("login did not set a session cookie")
	}

	b.logger.Info().Msg("login successful, session cookie set")
	return nil
}

// Refresh re-acquires both credentials after an auth rejection: a fresh
// identity token first, then a new session cookie. An identity fetch
// failure is logged and tolerated, matching the token's optionality; a
// login failure is not.
func (b *Broker) Refresh(ctx context.Context) error {
	if b.local {
		return nil
	}

	b.logger.Info().Msg("refreshing credentials")

	if b.identity != nil {
		b.identity.Invalidate()
		if _, err := b.identity.IdentityToken(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("identity token refresh failed, continuing with login")
		}
	}

	return b.Login(ctx)
}
