package supabase

// Package supabase provides an IdentityProvider backed by the Supabase Auth (GoTrue) REST API.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/target/portfolio-ui/internal/adapters/notify"
	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

const (
	// DefaultRefreshMargin is how long before expiry a session is refreshed.
	DefaultRefreshMargin = 90 * time.Second
	// DefaultRefreshTick is how often the auto-refresh loop checks expiry.
	DefaultRefreshTick = 30 * time.Second
)

var (
	_ ports.IdentityProvider = (*Client)(nil)
	_ ports.ProviderFactory  = (*Factory)(nil)
)

// Config holds configuration for Supabase Auth clients.
type Config struct {
	URL           string // project URL, e.g. https://xyz.supabase.co
	AnonKey       string
	AutoRefresh   bool
	RefreshMargin time.Duration
	RefreshTick   time.Duration
	HTTPClient    *http.Client // Optional, defaults to a client with a 30s timeout
	Logger        *slog.Logger
	Now           func() time.Time
}

func (c Config) withDefaults() (Config, error) {
	if c.URL == "" {
		return c, errors.New("supabase URL is required")
	}
	if c.AnonKey == "" {
		return c, errors.New("supabase anon key is required")
	}
	c.URL = strings.TrimSuffix(c.URL, "/")
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = DefaultRefreshMargin
	}
	if c.RefreshTick <= 0 {
		c.RefreshTick = DefaultRefreshTick
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c, nil
}

// Factory builds one Client per visitor, all sharing a token storage.
type Factory struct {
	cfg     Config
	storage ports.TokenStorage
}

// NewFactory validates cfg and returns a Factory.
func NewFactory(cfg Config, storage ports.TokenStorage) (*Factory, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, errors.New("token storage is required")
	}
	return &Factory{cfg: c, storage: storage}, nil
}

// NewProvider returns a client whose session is persisted under key.
func (f *Factory) NewProvider(_ context.Context, key string) (ports.IdentityProvider, error) {
	return newClient(f.cfg, f.storage, key), nil
}

// Client is a Supabase Auth client for a single visitor. Like the JS SDK it
// persists its session, refreshes it before expiry and emits change events.
type Client struct {
	cfg     Config
	api     *api
	storage ports.TokenStorage
	key     string
	hub     *notify.Hub
	logger  *slog.Logger

	refreshGroup singleflight.Group

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewClient constructs a standalone client.
func NewClient(cfg Config, storage ports.TokenStorage, key string) (*Client, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, errors.New("token storage is required")
	}
	return newClient(c, storage, key), nil
}

func newClient(cfg Config, storage ports.TokenStorage, key string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		api:     &api{baseURL: cfg.URL, anonKey: cfg.AnonKey, http: cfg.HTTPClient, now: cfg.Now},
		storage: storage,
		key:     key,
		hub:     notify.NewHub(),
		logger:  cfg.Logger.With("visitor", key),
		cancel:  cancel,
	}
	if cfg.AutoRefresh {
		c.wg.Add(1)
		go c.autoRefresh(ctx)
	}
	return c
}

// Subscribe registers a listener for auth state changes.
func (c *Client) Subscribe() ports.Subscription { return c.hub.Subscribe() }

// CurrentSession returns the persisted session, refreshing it first when it is
// about to expire. It returns nil when there is no usable session.
func (c *Client) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := c.storage.Load(ctx, c.key)
	if err != nil {
		if errors.Is(err, ports.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if !sess.ExpiresWithin(c.cfg.Now(), c.cfg.RefreshMargin) {
		return &sess, nil
	}
	return c.refresh(ctx, sess)
}

// refresh exchanges the refresh token for a new session. Concurrent callers
// share one request. A rejected refresh token ends the session.
func (c *Client) refresh(ctx context.Context, sess domainauth.Session) (*domainauth.Session, error) {
	if sess.RefreshToken == "" {
		c.removeSession(ctx)
		return nil, nil
	}

	res, err, _ := c.refreshGroup.Do(sess.RefreshToken, func() (any, error) {
		next, refreshErr := c.api.refresh(ctx, sess.RefreshToken)
		if refreshErr != nil {
			return nil, refreshErr
		}
		if saveErr := c.storage.Save(ctx, c.key, *next); saveErr != nil {
			return nil, fmt.Errorf("save session: %w", saveErr)
		}
		c.hub.Emit(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: next})
		return next, nil
	})
	if err != nil {
		var perr *domainauth.ProviderError
		if errors.As(err, &perr) && perr.Status >= 400 && perr.Status < 500 {
			c.logger.InfoContext(ctx, "refresh token rejected; signing out", "error", err)
			c.removeSession(ctx)
			return nil, nil
		}
		return nil, err
	}

	next, ok := res.(*domainauth.Session)
	if !ok {
		return nil, fmt.Errorf("unexpected refresh result %T", res)
	}
	out := next.Clone()
	return &out, nil
}

// SignInWithPassword begins a session and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error) {
	sess, err := c.api.signInWithPassword(ctx, creds)
	if err != nil {
		return nil, err
	}
	if saveErr := c.storage.Save(ctx, c.key, *sess); saveErr != nil {
		return nil, fmt.Errorf("save session: %w", saveErr)
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp creates an account. When the project auto-confirms accounts the
// provider returns a session, which is persisted and announced with SIGNED_IN.
func (c *Client) SignUp(ctx context.Context, creds domainauth.Credentials) (*domainauth.SignUpResult, error) {
	res, err := c.api.signUp(ctx, creds)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		if saveErr := c.storage.Save(ctx, c.key, *res.Session); saveErr != nil {
			return nil, fmt.Errorf("save session: %w", saveErr)
		}
		c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: res.Session})
	}
	return res, nil
}

// SignOut revokes the session at the provider, clears it locally and emits
// SIGNED_OUT. A session the provider no longer knows is cleared all the same.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.storage.Load(ctx, c.key)
	switch {
	case errors.Is(err, ports.ErrTokenNotFound):
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	default:
		if logoutErr := c.api.logout(ctx, sess.AccessToken); logoutErr != nil && !isSessionGone(logoutErr) {
			return logoutErr
		}
	}

	c.removeSession(ctx)
	return nil
}

func isSessionGone(err error) bool {
	var perr *domainauth.ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

func (c *Client) removeSession(ctx context.Context) {
	if err := c.storage.Delete(ctx, c.key); err != nil {
		c.logger.WarnContext(ctx, "delete persisted session failed", "error", err)
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedOut})
}

func (c *Client) autoRefresh(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.RefreshTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CurrentSession(ctx); err != nil && ctx.Err() == nil {
				c.logger.WarnContext(ctx, "auto refresh failed", "error", err)
			}
		}
	}
}

// Close stops auto refresh and ends all subscriptions. The persisted session is kept.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.hub.Close()
	})
	return nil
}
