package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/quantnex/quantnex/internal/platform/db"
)

// SessionCookieName is the cookie carrying the signed session id.
const SessionCookieName = "qnx_session"

var ErrSessionNotFound = errors.New("session not found")

// Session is a server-side login session.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	TenantID  string    `json:"tenantId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionStore persists sessions. Implementations must treat expired
// sessions as missing.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session), now: time.Now}
}

func (m *MemorySessionStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.now().After(s.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// RedisSessionStore keeps sessions in Redis with a TTL matching expiry.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: "qnx:session:"}
}

func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+s.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.prefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SessionManager creates and resolves cookie sessions. The cookie holds the
// session id and an HMAC-SHA256 signature over it.
type SessionManager struct {
	store  SessionStore
	secret []byte
	ttl    time.Duration
	secure bool
	users  IdentityLookup
	now    func() time.Time
}

func NewSessionManager(store SessionStore, secret string, ttl time.Duration, secure bool, users IdentityLookup) *SessionManager {
	return &SessionManager{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		users:  users,
		now:    time.Now,
	}
}

func (m *SessionManager) Mode() string { return "session" }

// Start creates a session for userID and sets the cookie on the response.
func (m *SessionManager) Start(c echo.Context, userID int64) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TenantID:  db.TenantFromContext(c.Request().Context()),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(c.Request().Context(), s); err != nil {
		return nil, err
	}
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    m.sign(s.ID),
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return s, nil
}

// End deletes the session and clears the cookie. Unknown sessions are not
// an error.
func (m *SessionManager) End(c echo.Context, sessionID string) error {
	if sessionID != "" {
		if err := m.store.Delete(c.Request().Context(), sessionID); err != nil {
			return err
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Resolve implements PrincipalResolver.
func (m *SessionManager) Resolve(c echo.Context) (*Principal, error) {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoCredentials
	}
	id, ok := m.verify(cookie.Value)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	s, err := m.store.Get(c.Request().Context(), id)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if s.TenantID != db.TenantFromContext(c.Request().Context()) {
		return nil, ErrInvalidCredentials
	}

	p := &Principal{UserID: s.UserID}
	if m.users != nil {
		p, err = m.users.LookupIdentity(c.Request().Context(), s.UserID)
		if err != nil || p == nil {
			return nil, ErrInvalidCredentials
		}
	}
	p.Method = "session"
	p.SessionID = s.ID
	return p, nil
}

func (m *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *SessionManager) verify(value string) (string, bool) {
	id, sig, found := strings.Cut(value, ".")
	if !found || id == "" {
		return "", false
	}
	expected := m.sign(id)
	if !hmac.Equal([]byte(expected), []byte(id+"."+sig)) {
		return "", false
	}
	return id, true
}
