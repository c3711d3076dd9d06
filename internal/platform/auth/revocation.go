package auth

import (
	"sort"
	"sync"
	"time"
)

// TokenRevocationStore tracks bearer tokens that were logged out before
// their natural expiry. Entries are keyed by jti and dropped once the token
// would have expired anyway. A user-wide cutoff invalidates every token of
// that user issued at or before the cutoff.
type TokenRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // jti -> token expiry
	users   map[int64]userCutoff
	done    chan struct{}
	now     func() time.Time
}

type userCutoff struct {
	at    time.Time
	until time.Time
}

// RevocationInfo describes one active revocation.
type RevocationInfo struct {
	JTI          string     `json:"jti,omitempty"`
	UserID       int64      `json:"userId,omitempty"`
	IssuedBefore *time.Time `json:"issuedBefore,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt"`
}

// NewTokenRevocationStore creates a store and starts a background goroutine
// that prunes expired entries every interval.
func NewTokenRevocationStore(interval time.Duration) *TokenRevocationStore {
	s := &TokenRevocationStore{
		entries: make(map[string]time.Time),
		users:   make(map[int64]userCutoff),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if interval > 0 {
		go s.cleanupLoop(interval)
	}
	return s
}

// Revoke marks jti as revoked until expiresAt.
func (s *TokenRevocationStore) Revoke(jti string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = expiresAt
}

// RevokeUser rejects every token of userID issued at or before now. The
// cutoff is kept for ttl, the longest lifetime a token can have.
func (s *TokenRevocationStore) RevokeUser(userID int64, ttl time.Duration) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = userCutoff{at: now, until: now.Add(ttl)}
}

func (s *TokenRevocationStore) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[jti]
	return ok
}

// IsUserRevoked reports whether a token of userID issued at issuedAt falls
// under a user-wide cutoff.
func (s *TokenRevocationStore) IsUserRevoked(userID int64, issuedAt time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cut, ok := s.users[userID]
	return ok && !issuedAt.After(cut.at)
}

// Count returns the number of currently revoked tokens.
func (s *TokenRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries lists token and user revocations, soonest expiry first.
func (s *TokenRevocationStore) Entries() []RevocationInfo {
	s.mu.RLock()
	out := make([]RevocationInfo, 0, len(s.entries)+len(s.users))
	for jti, exp := range s.entries {
		out = append(out, RevocationInfo{JTI: jti, ExpiresAt: exp})
	}
	for uid, cut := range s.users {
		at := cut.at
		out = append(out, RevocationInfo{UserID: uid, IssuedBefore: &at, ExpiresAt: cut.until})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *TokenRevocationStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *TokenRevocationStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *TokenRevocationStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, jti)
		}
	}
	for uid, cut := range s.users {
		if now.After(cut.until) {
			delete(s.users, uid)
		}
	}
}
