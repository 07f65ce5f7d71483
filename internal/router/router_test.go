package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/handler"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/draftsend/draftsend/internal/middleware"
	"github.com/draftsend/draftsend/internal/service"
	"github.com/stretchr/testify/assert"
)

type noSessions struct{}

func (noSessions) Load(ctx context.Context, id string) (*auth.Credential, error) {
	return nil, service.ErrSessionNotFound
}

func newTestRouter(sessions middleware.SessionLoader) http.Handler {
	cfg := &config.Config{
		Dispatch: config.DispatchConfig{BatchSize: 50, Delay: time.Second, SendTimeout: time.Second},
		Email:    config.EmailConfig{Provider: config.ProviderGraph},
	}
	log := logger.Nop()
	transports := func(ctx context.Context, cred *auth.Credential) (*service.Transport, error) {
		return nil, service.ErrCredentialRequired
	}
	svc := service.NewSendService(cfg, transports, nil, nil, log)
	h := handler.New(nil, nil, log, cfg, svc, nil, nil, nil)
	mw := middleware.New(nil, log, cfg)
	return New(h, mw, sessions, 5, time.Minute)
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(noSessions{})

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/auth/login", http.StatusNotImplemented},
		{http.MethodPost, "/auth/logout", http.StatusNoContent},
		{http.MethodGet, "/api/v1/me", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/runs", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/runs/abc", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/runs/abc/cancel", http.StatusUnauthorized},
		{http.MethodDelete, "/api/v1/runs/abc", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestRoutes_WithoutSessions(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
