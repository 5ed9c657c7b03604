package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/treadline-ai/treadline/internal/config"
)

// SessionCookie is the cookie that carries the signed session token.
const SessionCookie = "treadline_session"

// ErrNoSecret is returned when session operations are attempted without a
// signing secret configured.
var ErrNoSecret = errors.New("session secret not configured")

// SessionManager mints and validates the HS256-signed tokens carried by
// the session cookie. The API issues one on successful login and the
// session middleware checks it on every /api request.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionManager creates a manager from the auth configuration. A zero
// TTL falls back to twelve hours.
func NewSessionManager(cfg config.AuthConfig) *SessionManager {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionManager{secret: []byte(cfg.SessionSecret), ttl: ttl}
}

// Enabled reports whether a signing secret is configured.
func (m *SessionManager) Enabled() bool {
	return len(m.secret) > 0
}

// TTL returns the session lifetime, which doubles as the cookie max-age.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Mint returns a fresh signed session token.
func (m *SessionManager) Mint() (string, error) {
	if !m.Enabled() {
		return "", ErrNoSecret
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "treadline",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate checks the token's signature and expiry.
func (m *SessionManager) Validate(token string) error {
	if !m.Enabled() {
		return ErrNoSecret
	}

	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid session token: %w", err)
	}
	return nil
}
