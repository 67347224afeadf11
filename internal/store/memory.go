// Package store provides the token store backends: in-memory for development
// and tests, Redis and Postgres for deployments.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/quartzid/quartz/internal/oauth"
)

const janitorInterval = time.Minute

// MemoryStore is a mutex-guarded in-memory token store with TTL eviction.
// Suitable for a single instance; expired entries are purged by a janitor
// goroutine and also filtered on read.
type MemoryStore struct {
	mu       sync.Mutex
	codes    map[string]*oauth.AuthorizationCode
	refresh  map[string]*oauth.RefreshToken
	deniedAt map[string]time.Time
	done     chan struct{}
	closed   bool
}

// NewMemoryStore creates the store and starts its purge janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		codes:    make(map[string]*oauth.AuthorizationCode),
		refresh:  make(map[string]*oauth.RefreshToken),
		deniedAt: make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) PutCode(_ context.Context, code *oauth.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.codes[code.CodeHash] = &cp
	return nil
}

func (s *MemoryStore) TakeCode(_ context.Context, codeHash string) (*oauth.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[codeHash]
	if !ok || time.Now().After(code.ExpiresAt) {
		return nil, oauth.ErrTokenNotFound
	}
	delete(s.codes, codeHash)
	cp := *code
	return &cp, nil
}

func (s *MemoryStore) PutRefresh(_ context.Context, token *oauth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.refresh[token.TokenHash] = &cp
	return nil
}

func (s *MemoryStore) GetRefresh(_ context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.refresh[tokenHash]
	if !ok || time.Now().After(token.ExpiresAt) {
		return nil, oauth.ErrTokenNotFound
	}
	cp := *token
	return &cp, nil
}

func (s *MemoryStore) TakeRefresh(_ context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.refresh[tokenHash]
	if !ok || time.Now().After(token.ExpiresAt) {
		return nil, oauth.ErrTokenNotFound
	}
	delete(s.refresh, tokenHash)
	cp := *token
	return &cp, nil
}

func (s *MemoryStore) ExtendRefresh(_ context.Context, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.refresh[tokenHash]
	if !ok || time.Now().After(token.ExpiresAt) {
		return oauth.ErrTokenNotFound
	}
	token.ExpiresAt = expiresAt
	return nil
}

func (s *MemoryStore) RevokeRefresh(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, tokenHash)
	return nil
}

func (s *MemoryStore) DenyJTI(_ context.Context, jti string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deniedAt[jti] = until
	return nil
}

func (s *MemoryStore) IsJTIDenied(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.deniedAt[jti]
	return ok && time.Now().Before(until), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.purge(time.Now())
		}
	}
}

func (s *MemoryStore) purge(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, code := range s.codes {
		if now.After(code.ExpiresAt) {
			delete(s.codes, hash)
		}
	}
	for hash, token := range s.refresh {
		if now.After(token.ExpiresAt) {
			delete(s.refresh, hash)
		}
	}
	for jti, until := range s.deniedAt {
		if now.After(until) {
			delete(s.deniedAt, jti)
		}
	}
}
