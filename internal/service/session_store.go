package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/database"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session store errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrStateNotFound   = errors.New("sign-in state not found or expired")
)

// Redis keys for sign-in sessions
const (
	sessionKeyPrefix = "draftsend:session:"
	stateKeyPrefix   = "draftsend:oauth_state:"
	stateTTL         = 10 * time.Minute
)

// SessionStore keeps signed-in credentials in Redis, keyed by an opaque
// session id. A session lives as long as its access token.
type SessionStore struct {
	rdb        *database.Redis
	defaultTTL time.Duration
}

// NewSessionStore creates a new SessionStore. defaultTTL applies to
// credentials without an expiry.
func NewSessionStore(rdb *database.Redis, defaultTTL time.Duration) *SessionStore {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &SessionStore{rdb: rdb, defaultTTL: defaultTTL}
}

// Save stores cred under a new session id and returns the id and its lifetime
func (s *SessionStore) Save(ctx context.Context, cred *auth.Credential) (string, time.Duration, error) {
	if cred.Expired() {
		return "", 0, ErrSessionExpired
	}
	ttl := s.defaultTTL
	if !cred.Expiry.IsZero() {
		ttl = cred.TTL()
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal credential: %w", err)
	}

	id := uuid.NewString()
	if err := s.rdb.SetWithTTL(ctx, sessionKeyPrefix+id, data, ttl); err != nil {
		return "", 0, fmt.Errorf("failed to store session: %w", err)
	}
	return id, ttl, nil
}

// Load returns the credential of a session
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*auth.Credential, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	data, err := s.rdb.GetString(ctx, sessionKeyPrefix+sessionID)
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var cred auth.Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if cred.Expired() {
		return nil, ErrSessionExpired
	}
	return &cred, nil
}

// Delete ends a session
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Delete(ctx, sessionKeyPrefix+sessionID)
}

// SaveState remembers the PKCE verifier of a pending sign-in
func (s *SessionStore) SaveState(ctx context.Context, state, verifier string) error {
	if err := s.rdb.SetWithTTL(ctx, stateKeyPrefix+state, verifier, stateTTL); err != nil {
		return fmt.Errorf("failed to store sign-in state: %w", err)
	}
	return nil
}

// TakeState returns and forgets the verifier of a pending sign-in.
// A state can be used once.
func (s *SessionStore) TakeState(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrStateNotFound
	}
	verifier, err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load sign-in state: %w", err)
	}
	return verifier, nil
}
