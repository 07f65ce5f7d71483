package router

import (
	"net/http"
	"time"

	"github.com/draftsend/draftsend/internal/handler"
	"github.com/draftsend/draftsend/internal/middleware"
)

// New creates and configures the HTTP router. sessions may be nil, in
// which case the API is served without sign-in.
func New(h *handler.Handler, mw *middleware.Middleware, sessions middleware.SessionLoader, runLimit int, window time.Duration) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// Browser sign-in
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  10,
		Window: 15 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("GET /auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("GET /auth/callback", loginRateLimit(http.HandlerFunc(h.Callback)))
	mux.HandleFunc("POST /auth/logout", h.Logout)

	// Protected routes (require a session)
	authMw := func(next http.Handler) http.Handler { return next }
	if sessions != nil {
		authMw = mw.Session(sessions)
	}

	runRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "runs",
		Limit:  runLimit,
		Window: window,
		KeyFn:  middleware.SessionKey,
	})

	mux.Handle("GET /api/v1/me", authMw(http.HandlerFunc(h.Me)))
	mux.Handle("POST /api/v1/runs", authMw(runRateLimit(http.HandlerFunc(h.CreateRun))))
	mux.Handle("GET /api/v1/runs/{id}", authMw(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", authMw(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/events", authMw(http.HandlerFunc(h.RunEvents)))

	// Apply middleware stack
	var handler http.Handler = mux

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
