package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionStore is an in-memory session store.
type SessionStore struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]int64
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]int64)}
}

func (s *SessionStore) Create(_ context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, id := range s.sessions {
		if id == userID {
			delete(s.sessions, tok)
		}
	}
	s.seq++
	tok := fmt.Sprintf("session-%d", s.seq)
	s.sessions[tok] = userID
	return tok, nil
}

func (s *SessionStore) Validate(_ context.Context, token string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[token]
	return id, ok, nil
}

func (s *SessionStore) Invalidate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// TokenLedger is an in-memory single-use ledger.
type TokenLedger struct {
	mu   sync.Mutex
	used map[string]time.Time
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{used: make(map[string]time.Time)}
}

func (l *TokenLedger) MarkUsed(_ context.Context, jti string, until time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.used[jti]; ok {
		return false, nil
	}
	l.used[jti] = until
	return true, nil
}
