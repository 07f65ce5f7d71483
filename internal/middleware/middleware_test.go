package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/draftsend/draftsend/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *database.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return database.NewRedisFromClient(client)
}

type stubSessions map[string]*auth.Credential

func (s stubSessions) Load(ctx context.Context, id string) (*auth.Credential, error) {
	if id == "expired" {
		return nil, service.ErrSessionExpired
	}
	cred, ok := s[id]
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	return cred, nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimit(t *testing.T) {
	cfg := &config.Config{RateLimiting: config.RateLimitingConfig{Enabled: true}}
	mw := New(setupTestRedis(t), logger.Nop(), cfg)

	h := mw.RateLimit(RateLimitConfig{Name: "runs", Limit: 2, Window: time.Minute, KeyFn: IPKey})(okHandler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another client has its own window.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_DisabledWithoutRedis(t *testing.T) {
	cfg := &config.Config{RateLimiting: config.RateLimitingConfig{Enabled: true}}
	mw := New(nil, logger.Nop(), cfg)
	h := mw.RateLimit(RateLimitConfig{Name: "runs", Limit: 1, Window: time.Minute, KeyFn: IPKey})(okHandler)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestSession(t *testing.T) {
	mw := New(nil, logger.Nop(), &config.Config{})
	cred := &auth.Credential{Account: "ann@contoso.com", AccessToken: "at"}
	sessions := stubSessions{"s-1": cred}

	var seen *auth.Credential
	h := mw.Session(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCredential(r.Context())
		assert.Equal(t, "s-1", GetSessionID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/x", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s-1"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ann@contoso.com", seen.Account)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name     string
		session  string
		wantCode string
	}{
		{"missing", "", `"unauthorized"`},
		{"unknown", "nope", `"unauthorized"`},
		{"expired", "expired", `"session_expired"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.session != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.session})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantCode)
		})
	}
}

func TestRecoverAndRequestID(t *testing.T) {
	mw := New(nil, logger.Nop(), &config.Config{})

	var requestID string
	h := mw.RequestID(mw.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = GetRequestID(r.Context())
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "given", requestID)
}
