package testutil

import (
	"time"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
)

// SessionBuilder provides a fluent interface for building provider sessions in tests.
type SessionBuilder struct {
	sess domainauth.Session
}

// NewSession creates a new session builder with sensible defaults: a signed-in
// user, a refresh token and one hour until expiry.
func NewSession() *SessionBuilder {
	return &SessionBuilder{
		sess: domainauth.Session{
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
			TokenType:    "bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
			User: domainauth.Identity{
				ID:    "00000000-0000-0000-0000-000000000001",
				Email: "ada@example.com",
			},
		},
	}
}

// WithUser sets the user ID and email.
func (b *SessionBuilder) WithUser(id, email string) *SessionBuilder {
	b.sess.User.ID = id
	b.sess.User.Email = email
	return b
}

// WithMetadata sets a user metadata entry.
func (b *SessionBuilder) WithMetadata(key string, value any) *SessionBuilder {
	if b.sess.User.Metadata == nil {
		b.sess.User.Metadata = make(map[string]any)
	}
	b.sess.User.Metadata[key] = value
	return b
}

// WithTokens sets the access and refresh tokens.
func (b *SessionBuilder) WithTokens(access, refresh string) *SessionBuilder {
	b.sess.AccessToken = access
	b.sess.RefreshToken = refresh
	return b
}

// WithoutRefreshToken removes the refresh token.
func (b *SessionBuilder) WithoutRefreshToken() *SessionBuilder {
	b.sess.RefreshToken = ""
	return b
}

// ExpiresAt sets the access token expiry.
func (b *SessionBuilder) ExpiresAt(at time.Time) *SessionBuilder {
	b.sess.ExpiresAt = at
	return b
}

// ExpiresIn sets the access token expiry relative to now.
func (b *SessionBuilder) ExpiresIn(d time.Duration) *SessionBuilder {
	b.sess.ExpiresAt = time.Now().Add(d)
	return b
}

// Build returns the session value.
func (b *SessionBuilder) Build() domainauth.Session {
	return b.sess.Clone()
}

// BuildPtr returns a pointer to a copy of the session.
func (b *SessionBuilder) BuildPtr() *domainauth.Session {
	s := b.Build()
	return &s
}
