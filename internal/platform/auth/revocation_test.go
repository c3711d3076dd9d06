package auth

import (
	"testing"
	"time"
)

func TestRevocationStore_RevokeAndCheck(t *testing.T) {
	s := NewTokenRevocationStore(0)
	defer s.Close()

	if s.IsRevoked("jti-1") {
		t.Fatal("fresh store should not report revocations")
	}
	s.Revoke("jti-1", time.Now().Add(time.Hour))
	if !s.IsRevoked("jti-1") {
		t.Fatal("expected jti-1 revoked")
	}
	if s.Count() != 1 {
		t.Errorf("expected count 1, got %d", s.Count())
	}
}

func TestRevocationStore_CleanupDropsExpired(t *testing.T) {
	s := NewTokenRevocationStore(0)
	defer s.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.Revoke("old", now.Add(-time.Minute))
	s.Revoke("live", now.Add(time.Minute))

	s.cleanup()

	if s.IsRevoked("old") {
		t.Error("expired entry should be removed")
	}
	if !s.IsRevoked("live") {
		t.Error("live entry should remain")
	}
}

func TestRevocationStore_CloseTwice(t *testing.T) {
	s := NewTokenRevocationStore(time.Hour)
	s.Close()
	s.Close()
}

func TestRevocationStore_UserCutoff(t *testing.T) {
	s := NewTokenRevocationStore(0)
	defer s.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.RevokeUser(9, time.Hour)

	if !s.IsUserRevoked(9, now.Add(-time.Minute)) {
		t.Error("token issued before the cutoff should be revoked")
	}
	if s.IsUserRevoked(9, now.Add(time.Second)) {
		t.Error("token issued after the cutoff should stay valid")
	}
	if s.IsUserRevoked(10, now.Add(-time.Minute)) {
		t.Error("other users are unaffected")
	}

	now = now.Add(2 * time.Hour)
	s.cleanup()
	if s.IsUserRevoked(9, now.Add(-3*time.Hour)) {
		t.Error("cutoff should be pruned after the token lifetime")
	}
}
