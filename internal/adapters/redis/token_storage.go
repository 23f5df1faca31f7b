package redis

// Package redis provides Redis-based adapters for the portfolio site.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/portfolio-ui/internal/cryptoutil"
	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

// DefaultRetention bounds how long a persisted session survives without being
// rewritten. A refresh token keeps the session usable past access-token expiry.
const DefaultRetention = 7 * 24 * time.Hour

var _ ports.TokenStorage = (*TokenStorage)(nil)

// TokenStorage persists provider sessions keyed by visitor.
type TokenStorage struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	sealer    cryptoutil.Sealer
}

// NewTokenStorage creates a Redis-backed token storage.
func NewTokenStorage(client redis.UniversalClient) *TokenStorage {
	return &TokenStorage{
		client:    client,
		prefix:    "auth-token:",
		retention: DefaultRetention,
	}
}

// NewTokenStorageWithPrefix creates a Redis token storage with a custom key prefix and retention.
func NewTokenStorageWithPrefix(client redis.UniversalClient, prefix string, retention time.Duration) *TokenStorage {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &TokenStorage{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// WithSealer encrypts payloads at rest. Sessions written before a sealer was
// configured are still read as plain JSON.
func (s *TokenStorage) WithSealer(sealer cryptoutil.Sealer) *TokenStorage {
	s.sealer = sealer
	return s
}

func (s *TokenStorage) Save(ctx context.Context, key string, sess domainauth.Session) error {
	if key == "" {
		return errors.New("storage key cannot be empty")
	}
	if sess.RefreshToken == "" && sess.Expired(time.Now()) {
		// Nothing could ever resume this session.
		return errors.New("session is expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	payload := string(data)
	if s.sealer != nil {
		if payload, err = s.sealer.Seal(data); err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}

	ttl := s.retention
	if sess.RefreshToken == "" && !sess.ExpiresAt.IsZero() {
		ttl = time.Until(sess.ExpiresAt)
	}
	if ttl <= 0 {
		// go-redis treats a non-positive expiration as "keep forever".
		return errors.New("session is expired")
	}

	return s.client.Set(ctx, s.prefix+key, payload, ttl).Err()
}

func (s *TokenStorage) Load(ctx context.Context, key string) (domainauth.Session, error) {
	if key == "" {
		return domainauth.Session{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	raw := []byte(data)
	if s.sealer != nil && !strings.HasPrefix(data, "{") {
		if raw, err = s.sealer.Open(data); err != nil {
			return domainauth.Session{}, fmt.Errorf("open session: %w", err)
		}
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal(raw, &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	if sess.RefreshToken == "" && sess.Expired(time.Now()) {
		if deleteErr := s.Delete(ctx, key); deleteErr != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", deleteErr)
		}
		return domainauth.Session{}, ErrNotFound
	}

	return sess, nil
}

func (s *TokenStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}

// ErrNotFound is returned when no session is stored for a key.
var ErrNotFound = ports.ErrTokenNotFound
