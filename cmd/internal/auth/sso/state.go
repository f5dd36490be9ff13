package sso

import (
	"sync"
	"time"
)

type pending struct {
	verifier  string
	expiresAt time.Time
}

// StateStore keeps outstanding authorization states until the callback takes
// them. Each state is single use.
type StateStore struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]pending
}

func NewStateStore(ttl time.Duration, now func() time.Time) *StateStore {
	if now == nil {
		now = time.Now
	}
	return &StateStore{ttl: ttl, now: now, m: make(map[string]pending)}
}

func (s *StateStore) Put(state, verifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, p := range s.m {
		if !now.Before(p.expiresAt) {
			delete(s.m, k)
		}
	}
	s.m[state] = pending{verifier: verifier, expiresAt: now.Add(s.ttl)}
}

// Take removes state and returns its verifier if it was present and unexpired.
func (s *StateStore) Take(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.m[state]
	if !ok {
		return "", false
	}
	delete(s.m, state)
	if !s.now().Before(p.expiresAt) {
		return "", false
	}
	return p.verifier, true
}

func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
