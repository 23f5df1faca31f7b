package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/target/portfolio-ui/internal/adapters/notify"
	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*MockIdentityProvider)(nil)
	_ ports.ProviderFactory  = (*MockProviderFactory)(nil)
	_ ports.Navigator        = (*RecordingNavigator)(nil)
)

// FetchReply is delivered to a pending CurrentSession call.
type FetchReply struct {
	Session *domainauth.Session
	Err     error
}

// MockIdentityProvider simulates an IdP client. By default sign-in and
// sign-out succeed and emit the matching change notification, as a real
// provider does.
type MockIdentityProvider struct {
	CurrentSessionFunc func(ctx context.Context) (*domainauth.Session, error)
	SignInFunc         func(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error)
	SignUpFunc         func(ctx context.Context, creds domainauth.Credentials) (*domainauth.SignUpResult, error)
	SignOutFunc        func(ctx context.Context) error

	// FetchReplies, when non-nil, makes CurrentSession block until a reply is
	// sent. The wait ignores ctx, like an uncancellable in-flight request.
	FetchReplies chan FetchReply

	hub *notify.Hub

	mu          sync.Mutex
	fetchCalls  int
	signInCalls int
	signUpCalls int
	closed      bool
}

// NewMockIdentityProvider creates a provider with no active session.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{hub: notify.NewHub()}
}

// NewDelayedIdentityProvider creates a provider whose initial fetch resolves
// only when the test sends on FetchReplies.
func NewDelayedIdentityProvider() *MockIdentityProvider {
	p := NewMockIdentityProvider()
	p.FetchReplies = make(chan FetchReply)
	return p
}

// Emit pushes a change notification to all subscribers.
func (m *MockIdentityProvider) Emit(kind domainauth.EventKind, sess *domainauth.Session) {
	m.hub.Emit(domainauth.Event{Kind: kind, Session: sess})
}

// Subscribers reports the number of live subscriptions.
func (m *MockIdentityProvider) Subscribers() int { return m.hub.Len() }

// FetchCalls reports how many times CurrentSession was called.
func (m *MockIdentityProvider) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

// SignInCalls reports how many times SignInWithPassword was called.
func (m *MockIdentityProvider) SignInCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signInCalls
}

// SignUpCalls reports how many times SignUp was called.
func (m *MockIdentityProvider) SignUpCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signUpCalls
}

// Closed reports whether Close was called.
func (m *MockIdentityProvider) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockIdentityProvider) Subscribe() ports.Subscription { return m.hub.Subscribe() }

func (m *MockIdentityProvider) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()

	if m.FetchReplies != nil {
		reply := <-m.FetchReplies
		return reply.Session, reply.Err
	}
	if m.CurrentSessionFunc != nil {
		return m.CurrentSessionFunc(ctx)
	}
	return nil, nil
}

func (m *MockIdentityProvider) SignInWithPassword(
	ctx context.Context,
	creds domainauth.Credentials,
) (*domainauth.Session, error) {
	m.mu.Lock()
	m.signInCalls++
	m.mu.Unlock()

	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, creds)
	}
	sess := NewSession(creds.Email)
	m.Emit(domainauth.EventSignedIn, sess)
	return sess, nil
}

func (m *MockIdentityProvider) SignUp(
	ctx context.Context,
	creds domainauth.Credentials,
) (*domainauth.SignUpResult, error) {
	m.mu.Lock()
	m.signUpCalls++
	m.mu.Unlock()

	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, creds)
	}
	return &domainauth.SignUpResult{
		User:                domainauth.Identity{ID: "user-" + creds.Email, Email: creds.Email},
		ConfirmationPending: true,
	}, nil
}

func (m *MockIdentityProvider) SignOut(ctx context.Context) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx)
	}
	m.Emit(domainauth.EventSignedOut, nil)
	return nil
}

func (m *MockIdentityProvider) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.Close()
	return nil
}

// NewSession returns a session for email valid for one hour.
func NewSession(email string) *domainauth.Session {
	return &domainauth.Session{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User: domainauth.Identity{
			ID:       "user-" + email,
			Email:    email,
			Metadata: map[string]any{"full_name": "Mock User"},
		},
	}
}

// MockProviderFactory hands out MockIdentityProviders and remembers them by key.
type MockProviderFactory struct {
	NewFunc func(key string) (*MockIdentityProvider, error)

	mu        sync.Mutex
	providers map[string]*MockIdentityProvider
	calls     int
}

// NewMockProviderFactory creates a factory that returns fresh mock providers.
func NewMockProviderFactory() *MockProviderFactory {
	return &MockProviderFactory{providers: make(map[string]*MockIdentityProvider)}
}

func (f *MockProviderFactory) NewProvider(_ context.Context, key string) (ports.IdentityProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	var (
		p   *MockIdentityProvider
		err error
	)
	if f.NewFunc != nil {
		p, err = f.NewFunc(key)
	} else {
		p = NewMockIdentityProvider()
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("mock factory returned nil provider")
	}
	f.providers[key] = p
	return p, nil
}

// Provider returns the provider built for key, if any.
func (f *MockProviderFactory) Provider(key string) (*MockIdentityProvider, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[key]
	return p, ok
}

// Calls reports how many providers were built.
func (f *MockProviderFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// RecordingNavigator records every navigation.
type RecordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *RecordingNavigator) NavigateTo(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

// Paths returns the navigations issued so far.
func (n *RecordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}
