package memory

// Package memory provides process-local adapters used when Redis is not configured.

import (
	"context"
	"errors"
	"sync"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

var _ ports.TokenStorage = (*TokenStorage)(nil)

// TokenStorage keeps sessions in a map. Contents are lost on restart.
type TokenStorage struct {
	mu       sync.RWMutex
	sessions map[string]domainauth.Session
}

// NewTokenStorage creates an empty in-memory token storage.
func NewTokenStorage() *TokenStorage {
	return &TokenStorage{sessions: make(map[string]domainauth.Session)}
}

func (s *TokenStorage) Load(_ context.Context, key string) (domainauth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return domainauth.Session{}, ports.ErrTokenNotFound
	}
	return sess.Clone(), nil
}

func (s *TokenStorage) Save(_ context.Context, key string, sess domainauth.Session) error {
	if key == "" {
		return errors.New("storage key cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = sess.Clone()
	return nil
}

func (s *TokenStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Len reports how many sessions are stored.
func (s *TokenStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
