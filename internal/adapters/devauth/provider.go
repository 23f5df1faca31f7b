package devauth

// Package devauth provides a simple, config-driven IdentityProvider for local development.

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/portfolio-ui/internal/adapters/notify"
	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

var (
	_ ports.IdentityProvider = (*Client)(nil)
	_ ports.ProviderFactory  = (*Directory)(nil)
)

// Config controls the dev auth provider behavior.
type Config struct {
	// Email and Password seed one confirmed account. Both may be empty.
	Email    string
	Password string
	// RequireConfirmation makes sign-up return a pending confirmation instead of a session.
	RequireConfirmation bool
	SessionDuration     time.Duration // default 8h when zero
}

type account struct {
	identity  domainauth.Identity
	password  string
	confirmed bool
}

// Directory is the in-memory account database shared by all dev clients.
type Directory struct {
	mu                  sync.RWMutex
	accounts            map[string]*account
	requireConfirmation bool
	sessionDuration     time.Duration
	storage             ports.TokenStorage
}

// NewDirectory constructs a dev account directory backed by storage.
func NewDirectory(cfg Config, storage ports.TokenStorage) (*Directory, error) {
	if storage == nil {
		return nil, errors.New("dev auth: token storage is required")
	}
	if (cfg.Email == "") != (cfg.Password == "") {
		return nil, errors.New("dev auth: Email and Password must be set together")
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	d := &Directory{
		accounts:            make(map[string]*account),
		requireConfirmation: cfg.RequireConfirmation,
		sessionDuration:     dur,
		storage:             storage,
	}
	if cfg.Email != "" {
		d.accounts[normalize(cfg.Email)] = &account{
			identity:  domainauth.Identity{ID: uuid.NewString(), Email: cfg.Email},
			password:  cfg.Password,
			confirmed: true,
		}
	}
	return d, nil
}

// Confirm marks an account as verified, as clicking the emailed link would.
func (d *Directory) Confirm(email string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[normalize(email)]
	if !ok {
		return fmt.Errorf("dev auth: no account for %q", email)
	}
	acct.confirmed = true
	return nil
}

// NewProvider returns a client whose session is persisted under key.
func (d *Directory) NewProvider(_ context.Context, key string) (ports.IdentityProvider, error) {
	return &Client{dir: d, key: key, hub: notify.NewHub()}, nil
}

// Client implements ports.IdentityProvider against a Directory.
type Client struct {
	dir *Directory
	key string
	hub *notify.Hub
}

func (c *Client) Subscribe() ports.Subscription { return c.hub.Subscribe() }

func (c *Client) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := c.dir.storage.Load(ctx, c.key)
	if err != nil {
		if errors.Is(err, ports.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(time.Now()) {
		if delErr := c.dir.storage.Delete(ctx, c.key); delErr != nil {
			return nil, fmt.Errorf("delete expired session: %w", delErr)
		}
		return nil, nil
	}
	return &sess, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error) {
	c.dir.mu.RLock()
	acct, ok := c.dir.accounts[normalize(creds.Email)]
	var (
		identity  domainauth.Identity
		confirmed bool
		match     bool
	)
	if ok {
		identity = acct.identity.Clone()
		confirmed = acct.confirmed
		match = subtle.ConstantTimeCompare([]byte(acct.password), []byte(creds.Password)) == 1
	}
	c.dir.mu.RUnlock()

	if !ok || !match {
		return nil, &domainauth.ProviderError{
			Status:      http.StatusBadRequest,
			Code:        "invalid_credentials",
			Message:     "Invalid login credentials",
			Description: "invalid_credentials",
		}
	}
	if !confirmed {
		return nil, &domainauth.ProviderError{
			Status:      http.StatusBadRequest,
			Code:        "email_not_confirmed",
			Message:     "Email not confirmed",
			Description: "email_not_confirmed",
		}
	}

	sess, err := c.issue(ctx, identity)
	if err != nil {
		return nil, err
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

func (c *Client) SignUp(ctx context.Context, creds domainauth.Credentials) (*domainauth.SignUpResult, error) {
	if !strings.Contains(creds.Email, "@") {
		return nil, &domainauth.ProviderError{
			Status:      http.StatusBadRequest,
			Code:        "validation_failed",
			Message:     "Unable to validate email address: invalid format",
			Description: "validation_failed",
		}
	}
	if len(creds.Password) < 6 {
		return nil, &domainauth.ProviderError{
			Status:      http.StatusUnprocessableEntity,
			Code:        "weak_password",
			Message:     "Password should be at least 6 characters.",
			Description: "weak_password",
		}
	}

	key := normalize(creds.Email)
	c.dir.mu.Lock()
	if _, exists := c.dir.accounts[key]; exists {
		c.dir.mu.Unlock()
		return nil, &domainauth.ProviderError{
			Status:      http.StatusUnprocessableEntity,
			Code:        "user_already_exists",
			Message:     "User already registered",
			Description: "user_already_exists",
		}
	}
	acct := &account{
		identity:  domainauth.Identity{ID: uuid.NewString(), Email: creds.Email},
		password:  creds.Password,
		confirmed: !c.dir.requireConfirmation,
	}
	c.dir.accounts[key] = acct
	identity := acct.identity.Clone()
	c.dir.mu.Unlock()

	if c.dir.requireConfirmation {
		return &domainauth.SignUpResult{User: identity, ConfirmationPending: true}, nil
	}

	sess, err := c.issue(ctx, identity)
	if err != nil {
		return nil, err
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return &domainauth.SignUpResult{User: identity, Session: sess}, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if err := c.dir.storage.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedOut})
	return nil
}

func (c *Client) Close() error {
	c.hub.Close()
	return nil
}

func (c *Client) issue(ctx context.Context, identity domainauth.Identity) (*domainauth.Session, error) {
	access, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	sess := &domainauth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(c.dir.sessionDuration),
		User:         identity,
	}
	if saveErr := c.dir.storage.Save(ctx, c.key, *sess); saveErr != nil {
		return nil, fmt.Errorf("save session: %w", saveErr)
	}
	return sess, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	// Compute number of random bytes needed to produce at least n base64 URL chars
	bLen := (n*3 + 3) / 4
	b := make([]byte, bLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) < n {
		// pad
		extra := make([]byte, 1)
		if _, err := rand.Read(extra); err != nil {
			return "", err
		}
		s += base64.RawURLEncoding.EncodeToString(extra)
	}
	return s[:n], nil
}
