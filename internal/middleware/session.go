package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/service"
)

// SessionCookie is the cookie carrying the session id
const SessionCookie = "draftsend_session"

// Context keys for the signed-in session
const (
	SessionIDKey  contextKey = "session_id"
	CredentialKey contextKey = "credential"
)

// SessionLoader resolves a session id to its credential
type SessionLoader interface {
	Load(ctx context.Context, sessionID string) (*auth.Credential, error)
}

// Session requires a signed-in session and puts its credential in the context
func (m *Middleware) Session(sessions SessionLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionIDFromRequest(r)
			if sessionID == "" {
				http.Error(w, `{"error":{"code":"unauthorized","message":"Sign in required"}}`, http.StatusUnauthorized)
				return
			}

			cred, err := sessions.Load(r.Context(), sessionID)
			switch {
			case errors.Is(err, service.ErrSessionExpired):
				http.Error(w, `{"error":{"code":"session_expired","message":"The session has expired, sign in again"}}`, http.StatusUnauthorized)
				return
			case errors.Is(err, service.ErrSessionNotFound):
				http.Error(w, `{"error":{"code":"unauthorized","message":"Sign in required"}}`, http.StatusUnauthorized)
				return
			case err != nil:
				m.log.Error().Err(err).Msg("failed to load session")
				http.Error(w, `{"error":{"code":"internal_error","message":"Failed to load session"}}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
			ctx = context.WithValue(ctx, CredentialKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionIDFromRequest reads the session id from the Authorization header or the session cookie
func SessionIDFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// GetCredential returns the credential of the signed-in session
func GetCredential(ctx context.Context) *auth.Credential {
	if cred, ok := ctx.Value(CredentialKey).(*auth.Credential); ok {
		return cred
	}
	return nil
}

// GetSessionID returns the id of the signed-in session
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}
