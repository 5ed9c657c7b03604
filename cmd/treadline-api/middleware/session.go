// Package middleware provides HTTP middleware for the treadline API.
package middleware

import (
	"net/http"

	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/observability"
)

// Session returns middleware enforcing a valid session cookie on the API
// routes. Local deployments pass local=true and run open; everywhere else
// a missing or invalid cookie is a 401.
func Session(sessions *auth.SessionManager, local bool, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if local {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(auth.SessionCookie)
			if err != nil {
				reject(w, r, logger, "missing session cookie")
				return
			}
			if err := sessions.Validate(cookie.Value); err != nil {
				logger.Warn().Err(err).Str("path", r.URL.Path).Msg("session rejected")
				reject(w, r, logger, "invalid session")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, logger *observability.Logger, reason string) {
	logger.Debug().Str("path", r.URL.Path).Str("reason", reason).Msg("request unauthorized")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Authentication required"}`))
}

// CORS returns CORS middleware for browser clients. Credentials are
// allowed because the session rides a cookie.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
