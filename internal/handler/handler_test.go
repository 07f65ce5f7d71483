package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/dispatch"
	"github.com/draftsend/draftsend/internal/email"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/draftsend/draftsend/internal/middleware"
	"github.com/draftsend/draftsend/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type mockSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (m *mockSender) Send(ctx context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockDrafts struct{}

func (mockDrafts) FindDraft(ctx context.Context, subject string) (email.Draft, error) {
	if subject != "Newsletter" {
		return email.Draft{}, email.ErrDraftNotFound
	}
	return email.Draft{Subject: subject, HTMLBody: "<p>hi</p>"}, nil
}

type testEnv struct {
	h        *Handler
	sender   *mockSender
	svc      *service.SendService
	sessions *service.SessionStore
	mr       *miniredis.Miniredis
}

func newTestEnv(t *testing.T, pause dispatch.PauseFunc) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rdb := database.NewRedisFromClient(client)

	cfg := &config.Config{
		Dispatch: config.DispatchConfig{BatchSize: 50, Delay: time.Second, SendTimeout: time.Second, RunRetention: time.Hour},
		Email:    config.EmailConfig{Provider: config.ProviderGraph},
	}

	sender := &mockSender{}
	transports := func(ctx context.Context, cred *auth.Credential) (*service.Transport, error) {
		return &service.Transport{Provider: "graph", Sender: sender, Drafts: mockDrafts{}}, nil
	}

	progress := service.NewProgressPublisher(rdb, time.Hour)
	sessions := service.NewSessionStore(rdb, time.Hour)
	svc := service.NewSendService(cfg, transports, nil, progress, logger.Nop()).WithPause(pause)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokenSrv.Close)

	flow, err := auth.NewAuthCodeFlow(auth.Config{
		Provider:    auth.ProviderMicrosoft,
		ClientID:    "client",
		RedirectURL: "http://localhost:8080/auth/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:   tokenSrv.URL + "/authorize",
			TokenURL:  tokenSrv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	})
	require.NoError(t, err)

	h := New(nil, rdb, logger.Nop(), cfg, svc, sessions, progress, flow)
	return &testEnv{h: h, sender: sender, svc: svc, sessions: sessions, mr: mr}
}

func noPause(ctx context.Context, d time.Duration) error { return ctx.Err() }

func blockingPause(ctx context.Context, d time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func multipartRequest(t *testing.T, fields map[string]string, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		fw.Write([]byte(content))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, noPause)

	rec := httptest.NewRecorder()
	env.h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Services["redis"])
	assert.NotContains(t, resp.Services, "postgres")

	env.mr.Close()
	rec = httptest.NewRecorder()
	env.h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginAndCallback(t *testing.T) {
	env := newTestEnv(t, noPause)

	rec := httptest.NewRecorder()
	env.h.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assert.NotEmpty(t, loc.Query().Get("code_challenge"))

	var stateCookieValue string
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookie {
			stateCookieValue = c.Value
		}
	}
	require.Equal(t, state, stateCookieValue)

	// Mismatched state is rejected before any exchange.
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=other&code=good-code", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	rec = httptest.NewRecorder()
	env.h.Callback(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec))

	req = httptest.NewRequest(http.MethodGet, "/auth/callback?state="+state+"&code=good-code", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	rec = httptest.NewRecorder()
	env.h.Callback(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sessionID string
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			sessionID = c.Value
		}
	}
	require.NotEmpty(t, sessionID)

	cred, err := env.sessions.Load(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "at-1", cred.AccessToken)

	// A state is single use.
	rec = httptest.NewRecorder()
	env.h.Callback(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Logout removes the session.
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: sessionID})
	rec = httptest.NewRecorder()
	env.h.Logout(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err = env.sessions.Load(context.Background(), sessionID)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestCallback_ExchangeFails(t *testing.T) {
	env := newTestEnv(t, noPause)
	require.NoError(t, env.sessions.SaveState(context.Background(), "s1", oauth2.GenerateVerifier()))

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=s1&code=bad-code", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	env.h.Callback(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "exchange_failed", decodeError(t, rec))
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t, noPause)

	req := multipartRequest(t, map[string]string{
		"subject":       "Newsletter",
		"cc":            "boss@x.io",
		"batch_size":    "2",
		"delay_seconds": "0",
	}, "list.csv", "email\na@x.io\nb@x.io\nc@x.io\n")
	rec := httptest.NewRecorder()
	env.h.CreateRun(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CreateRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Recipients)
	assert.Equal(t, "email", resp.SkippedHeader)
	assert.Equal(t, "/api/v1/runs/"+resp.RunID, rec.Header().Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.svc.Wait(ctx, resp.RunID))

	get := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+resp.RunID, nil)
	get.SetPathValue("id", resp.RunID)
	rec = httptest.NewRecorder()
	env.h.GetRun(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap service.RunSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, dispatch.StateCompleted, snap.State)
	assert.Equal(t, 2, snap.TotalBatches)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Equal(t, 2, env.sender.count())
}

func TestCreateRun_Errors(t *testing.T) {
	env := newTestEnv(t, noPause)

	tests := []struct {
		name     string
		fields   map[string]string
		file     string
		content  string
		status   int
		wantCode string
	}{
		{"missing subject", map[string]string{"to": "a@x.io"}, "", "", http.StatusBadRequest, "missing_subject"},
		{"no recipients", map[string]string{"subject": "Newsletter"}, "", "", http.StatusBadRequest, "no_recipients"},
		{"unknown draft", map[string]string{"subject": "Other", "to": "a@x.io"}, "", "", http.StatusNotFound, "draft_not_found"},
		{"bad batch size", map[string]string{"subject": "Newsletter", "to": "a@x.io", "batch_size": "0"}, "", "", http.StatusBadRequest, "invalid_batch_size"},
		{"negative delay", map[string]string{"subject": "Newsletter", "to": "a@x.io", "delay_seconds": "-1"}, "", "", http.StatusBadRequest, "invalid_delay"},
		{"unsupported file", map[string]string{"subject": "Newsletter"}, "list.pdf", "%PDF", http.StatusBadRequest, "unsupported_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.h.CreateRun(rec, multipartRequest(t, tt.fields, tt.file, tt.content))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec))
		})
	}

	rec := httptest.NewRecorder()
	env.h.CreateRun(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.sender.count())
}

func TestCreateRun_ExpiredServerCredential(t *testing.T) {
	env := newTestEnv(t, noPause)
	env.svc.WithCredential(&auth.Credential{Provider: "microsoft", AccessToken: "at", Expiry: time.Now().Add(-time.Minute)})

	rec := httptest.NewRecorder()
	env.h.CreateRun(rec, multipartRequest(t, map[string]string{"subject": "Newsletter", "to": "a@x.io"}, "", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "credential_expired", decodeError(t, rec))
	assert.Zero(t, env.sender.count())
}

func TestCancelRun(t *testing.T) {
	env := newTestEnv(t, blockingPause)

	cancelReq := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+id+"/cancel", nil)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		env.h.CancelRun(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNotFound, cancelReq("unknown").Code)

	rec := httptest.NewRecorder()
	env.h.CreateRun(rec, multipartRequest(t, map[string]string{"subject": "Newsletter", "batch_size": "1"}, "list.csv", "a@x.io\nb@x.io\n"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp CreateRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Eventually(t, func() bool { return env.sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusAccepted, cancelReq(resp.RunID).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.svc.Wait(ctx, resp.RunID))

	rec = cancelReq(resp.RunID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, env.sender.count())
}

func TestRunEvents_FinishedRun(t *testing.T) {
	env := newTestEnv(t, noPause)

	id, out := env.svc.Run(context.Background(), nil, service.SendRequest{Subject: "Newsletter", DirectTo: "a@x.io"}, nil)
	require.Equal(t, dispatch.StateCompleted, out.State)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id+"/events", nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	env.h.RunEvents(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "event: snapshot\ndata: "))
	assert.Contains(t, rec.Body.String(), `"state":"completed"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing/events", nil)
	req.SetPathValue("id", "missing")
	rec = httptest.NewRecorder()
	env.h.RunEvents(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, noPause)

	rec := httptest.NewRecorder()
	env.h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	id, _, err := env.sessions.Save(context.Background(), &auth.Credential{Provider: "microsoft", Account: "ann@contoso.com", AccessToken: "at"})
	require.NoError(t, err)

	mw := middleware.New(nil, logger.Nop(), &config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+id)
	rec = httptest.NewRecorder()
	mw.Session(env.sessions)(http.HandlerFunc(env.h.Me)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ann@contoso.com", resp.Account)
	assert.Nil(t, resp.ExpiresAt)

	env.svc.WithCredential(&auth.Credential{Provider: "smtp", Account: "relay@example.com"})
	rec = httptest.NewRecorder()
	env.h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "relay@example.com", resp.Account)
}
