package auth

// Package auth contains domain-level types for authentication state.
// It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"maps"
	"time"
)

// Identity represents the signed-in principal as reported by the identity provider.
// It is a cached mirror of provider state and is never owned by this application.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"` // optional; empty when the provider has none
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// HasEmail reports whether the provider supplied an email address.
func (i Identity) HasEmail() bool { return i.Email != "" }

// Clone returns a copy whose metadata map is not shared with the receiver.
func (i Identity) Clone() Identity {
	i.Metadata = maps.Clone(i.Metadata)
	return i
}

// Session is a provider-issued credential bundle. It is replaced wholesale on
// every change notification and never partially mutated.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired reports whether the access token has expired at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.IsZero() && !now.Add(d).Before(s.ExpiresAt)
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	s.User = s.User.Clone()
	return s
}

// EventKind names an authentication state change pushed by the identity provider.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Event is a change notification. Session is nil when the provider reports no session.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Credentials carries email/password input for begin-session and create-account.
type Credentials struct {
	Email    string
	Password string
}

// SignUpResult is returned by create-account. When ConfirmationPending is true
// the provider has sent a verification email and no session was issued.
type SignUpResult struct {
	User                Identity
	ConfirmationPending bool
	Session             *Session
}

// ProviderError is the structured error returned by the identity provider.
// Message is human readable; Description is an optional machine-readable detail.
type ProviderError struct {
	Status      int    `json:"status,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.Description != "" && e.Description != e.Message {
		return fmt.Sprintf("%s (%s)", e.Message, e.Description)
	}
	return e.Message
}

// State is an immutable snapshot of the auth context as seen by consumers.
// Identity and Session are always published together.
type State struct {
	Loading  bool
	Identity *Identity
	Session  *Session
	// FetchErr holds the initial session fetch failure, if any. The state is
	// still reported as signed out when it is set.
	FetchErr error
}

// Authenticated reports whether an identity is present.
func (s State) Authenticated() bool { return s.Identity != nil }
