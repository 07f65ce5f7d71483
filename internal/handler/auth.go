package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/draftsend/draftsend/internal/middleware"
	"github.com/draftsend/draftsend/internal/service"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	stateCookie    = "draftsend_oauth_state"
	stateCookieTTL = 10 * time.Minute
)

// SessionResponse describes the signed-in account
type SessionResponse struct {
	Provider  string     `json:"provider"`
	Account   string     `json:"account,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Login redirects the browser to the provider's sign-in page
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.authFlow == nil || h.sessions == nil {
		writeError(w, http.StatusNotImplemented, "login_unavailable", "Browser sign-in is not configured")
		return
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	if err := h.sessions.SaveState(r.Context(), state, verifier); err != nil {
		h.log.Error().Err(err).Msg("failed to store sign-in state")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start sign-in")
		return
	}

	h.setCookie(w, stateCookie, state, stateCookieTTL)
	http.Redirect(w, r, h.authFlow.AuthCodeURL(state, verifier), http.StatusFound)
}

// Callback completes the sign-in and opens a session
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.authFlow == nil || h.sessions == nil {
		writeError(w, http.StatusNotImplemented, "login_unavailable", "Browser sign-in is not configured")
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		writeError(w, http.StatusBadRequest, "sign_in_failed", q.Get("error_description"))
		return
	}

	state := q.Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || state == "" || cookie.Value != state {
		writeError(w, http.StatusBadRequest, "invalid_state", "Sign-in state does not match, start again")
		return
	}
	h.clearCookie(w, stateCookie)

	verifier, err := h.sessions.TakeState(r.Context(), state)
	if errors.Is(err, service.ErrStateNotFound) {
		writeError(w, http.StatusBadRequest, "invalid_state", "Sign-in state expired, start again")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load sign-in state")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to complete sign-in")
		return
	}

	cred, err := h.authFlow.Exchange(r.Context(), q.Get("code"), verifier)
	if err != nil {
		h.log.Warn().Err(err).Msg("authorization code exchange failed")
		writeError(w, http.StatusUnauthorized, "exchange_failed", "The provider rejected the sign-in")
		return
	}

	sessionID, ttl, err := h.sessions.Save(r.Context(), cred)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to store session")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to open session")
		return
	}
	h.setCookie(w, middleware.SessionCookie, sessionID, ttl)

	h.log.Info().Str("account", cred.Account).Str("provider", cred.Provider).Msg("signed in")

	resp := SessionResponse{Provider: cred.Provider, Account: cred.Account}
	if !cred.Expiry.IsZero() {
		resp.ExpiresAt = &cred.Expiry
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout ends the current session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
			if err := h.sessions.Delete(r.Context(), sessionID); err != nil {
				h.log.Warn().Err(err).Msg("failed to delete session")
			}
		}
	}
	h.clearCookie(w, middleware.SessionCookie)
	w.WriteHeader(http.StatusNoContent)
}

// Me describes the signed-in account
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	cred := middleware.GetCredential(r.Context())
	if cred == nil && h.sendSvc != nil {
		cred = h.sendSvc.Credential()
	}
	if cred == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Sign in required")
		return
	}
	resp := SessionResponse{Provider: cred.Provider, Account: cred.Account}
	if !cred.Expiry.IsZero() {
		resp.ExpiresAt = &cred.Expiry
	}
	writeJSON(w, http.StatusOK, resp)
}
