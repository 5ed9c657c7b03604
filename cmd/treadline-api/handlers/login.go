package handlers

import (
	"net/http"
	"time"

	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/observability"
)

// LoginHandler exchanges the service password for a session cookie.
type LoginHandler struct {
	logger   *observability.Logger
	sessions *auth.SessionManager
	password string
	secure   bool
}

// NewLoginHandler creates a login handler. The cookie carries the Secure
// flag outside local mode.
func NewLoginHandler(logger *observability.Logger, sessions *auth.SessionManager, cfg config.AuthConfig) *LoginHandler {
	return &LoginHandler{
		logger:   logger.WithOperation("login"),
		sessions: sessions,
		password: cfg.ServicePassword,
		secure:   cfg.Mode != "local",
	}
}

// Login handles POST /login.
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.password == "" || !h.sessions.Enabled() {
		h.logger.Error().Msg("login requested but service password or session secret is unset")
		writeError(w, http.StatusInternalServerError, "Service authentication is not configured")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed form body")
		return
	}

	if r.PostFormValue("password") != h.password {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("login rejected")
		writeError(w, http.StatusUnauthorized, "Incorrect password")
		return
	}

	token, err := h.sessions.Mint()
	if err != nil {
		h.logger.Error().Err(err).Msg("session mint failed")
		writeError(w, http.StatusInternalServerError, "Could not issue session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "authenticated",
		"message": "Login successful",
	})
}
