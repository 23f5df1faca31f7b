package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
)

// Subscription is a live registration for change notifications.
type Subscription interface {
	// Events delivers notifications in provider order. It is closed after Unsubscribe.
	Events() <-chan domainauth.Event
	// Unsubscribe releases the registration. Safe to call more than once.
	Unsubscribe()
}

// IdentityProvider is a client bound to one visitor's auth state at an external IdP.
type IdentityProvider interface {
	// CurrentSession returns the active session, or nil when there is none.
	CurrentSession(ctx context.Context) (*domainauth.Session, error)

	// Subscribe registers a listener for every auth state change.
	Subscribe() Subscription

	// SignInWithPassword begins a session. On success the provider emits SIGNED_IN.
	SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error)

	// SignUp creates an account.
	SignUp(ctx context.Context, creds domainauth.Credentials) (*domainauth.SignUpResult, error)

	// SignOut ends the current session. On success the provider emits SIGNED_OUT.
	SignOut(ctx context.Context) error

	// Close stops background work (e.g. token auto-refresh) and ends all subscriptions.
	Close() error
}

// ProviderFactory builds an IdentityProvider for a visitor. The key scopes
// persisted tokens so that a returning visitor resumes its session.
type ProviderFactory interface {
	NewProvider(ctx context.Context, key string) (IdentityProvider, error)
}

// ErrTokenNotFound is returned by TokenStorage.Load when nothing is stored for a key.
var ErrTokenNotFound = errors.New("session not found")

// TokenStorage persists a visitor's raw provider session between requests.
type TokenStorage interface {
	Load(ctx context.Context, key string) (domainauth.Session, error)
	Save(ctx context.Context, key string, sess domainauth.Session) error
	Delete(ctx context.Context, key string) error
}

// Navigator performs a fire-and-forget route change.
type Navigator interface {
	NavigateTo(path string)
}
