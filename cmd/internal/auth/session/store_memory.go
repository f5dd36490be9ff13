package session

import (
	"context"
	"sync"
	"time"

	"github.com/puse45/auth-ms/cmd/account/ids"
	"github.com/puse45/auth-ms/cmd/security/token"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Row)}
}

func (s *MemoryStore) Create(ctx context.Context, now time.Time, in NewSession) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(now, in)
}

func (s *MemoryStore) createLocked(now time.Time, in NewSession) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	used := now
	s.rows[id] = &Row{
		ID:               id,
		AccountID:        in.AccountID,
		RefreshTokenHash: in.RefreshHash,
		CreatedAt:        now,
		LastUsedAt:       &used,
		ExpiresAt:        in.ExpiresAt,
		Platform:         platformOrUnknown(in.Device.Platform),
	}
	return id, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *r, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, refreshHash string, next NewSession) (Row, string, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *Row
	for _, r := range s.rows {
		if token.EqualHex64(r.RefreshTokenHash, refreshHash) {
			cur = r
			break
		}
	}
	if cur == nil {
		return Row{}, "", ErrSessionNotFound
	}
	if !cur.ExpiresAt.After(now) {
		return Row{}, "", ErrSessionExpired
	}
	if cur.RevokedAt != nil && cur.ReplacedBySessionID != nil {
		s.revokeAllLocked(now, cur.AccountID, ReasonReuseDetected)
		return Row{}, "", ErrRefreshReuseDetected
	}
	if cur.RevokedAt != nil {
		return Row{}, "", ErrSessionRevoked
	}

	next.AccountID = cur.AccountID
	newID, err := s.createLocked(now, next)
	if err != nil {
		return Row{}, "", err
	}

	old := *cur
	at, reason, repl := now, ReasonRotation, newID
	cur.LastUsedAt = &at
	cur.RevokedAt = &at
	cur.ReplacedBySessionID = &repl
	cur.RevocationReason = &reason
	return old, newID, nil
}

func (s *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rows[sessionID]; ok {
		at := now
		r.LastUsedAt = &at
	}
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rows[sessionID]; ok {
		revoke(r, now, reason)
	}
	return nil
}

func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, accountID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked(now, accountID, reason)
	return nil
}

func (s *MemoryStore) revokeAllLocked(now time.Time, accountID, reason string) {
	for _, r := range s.rows {
		if r.AccountID == accountID {
			revoke(r, now, reason)
		}
	}
}

func revoke(r *Row, now time.Time, reason string) {
	if r.RevokedAt == nil {
		at := now
		r.RevokedAt = &at
	}
	if r.RevocationReason == nil {
		rs := reason
		r.RevocationReason = &rs
	}
}

func platformOrUnknown(p Platform) Platform {
	if p == "" {
		return PlatformUnknown
	}
	return p
}
