package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/golang-jwt/jwt/v5"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/genai"
	"github.com/treadline-ai/treadline/internal/observability"
)

// identityPath is the metadata-server suffix that mints an ID token bound
// to the audience appended as a query parameter.
const identityPath = "instance/service-accounts/default/identity?audience="

// tokenSkew is subtracted from a token's expiry so we refresh before the
// remote side starts rejecting it.
const tokenSkew = 2 * time.Minute

// defaultTokenTTL is assumed when a fetched token carries no readable
// expiry claim.
const defaultTokenTTL = 45 * time.Minute

// IdentityProvider fetches audience-bound OIDC identity tokens from the
// platform metadata service and caches them until shortly before expiry.
// In local mode it returns an empty token, which callers treat as "send
// no Authorization header".
type IdentityProvider struct {
	mode     string
	audience string
	logger   *observability.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewIdentityProvider creates a provider for the configured audience.
func NewIdentityProvider(cfg config.AuthConfig, logger *observability.Logger) *IdentityProvider {
	return &IdentityProvider{
		mode:     cfg.Mode,
		audience: cfg.Audience,
		logger:   logger.WithOperation("identity"),
	}
}

// IdentityToken returns a bearer token for the configured audience,
// fetching a fresh one when the cached token is missing or near expiry.
func (p *IdentityProvider) IdentityToken(ctx context.Context) (string, error) {
	if p.mode == "local" {
		return "", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expires) {
		return p.token, nil
	}

	p.logger.Info().Str("audience", p.audience).Msg("fetching identity token")
	token, err := metadata.GetWithContext(ctx, identityPath+url.QueryEscape(p.audience))
	if err != nil {
		return "", fmt.Errorf("fetch identity token: %w", err)
	}

	p.token = token
	p.expires = tokenExpiry(token)
	return p.token, nil
}

// Invalidate drops the cached token so the next IdentityToken call hits
// the metadata service again. Used when the remote side rejects a token
// that has not reached its nominal expiry.
func (p *IdentityProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expires = time.Time{}
	p.mu.Unlock()
}

// tokenExpiry reads the exp claim without verifying the signature (the
// metadata service is trusted; we only need the lifetime). Tokens with no
// readable expiry get a conservative default.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Now().Add(defaultTokenTTL)
	}
	return claims.ExpiresAt.Time.Add(-tokenSkew)
}

var _ genai.TokenProvider = (*IdentityProvider)(nil)
