package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/target/portfolio-ui/internal/authstate"
	"github.com/target/portfolio-ui/internal/ports"
)

// DefaultVisitorIdleTTL is how long an unused visitor context is kept alive.
const DefaultVisitorIdleTTL = 30 * time.Minute

// VisitorsOptions groups dependencies for Visitors.
type VisitorsOptions struct {
	Factory ports.ProviderFactory
	IdleTTL time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Visitor is the auth context for one browser: its provider client, the
// session store mirroring it and the gateway calling through to it.
type Visitor struct {
	Key     string
	Store   *authstate.Store
	Gateway *AuthGateway

	provider ports.IdentityProvider
	lastSeen time.Time
}

// Visitors owns the per-browser auth contexts. Each one is activated on first
// use and torn down when idle or at shutdown.
type Visitors struct {
	factory ports.ProviderFactory
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Visitor
	closed  bool
	group   singleflight.Group
}

var errVisitorsClosed = errors.New("visitor registry closed")

// NewVisitors constructs a visitor registry.
func NewVisitors(opts VisitorsOptions) *Visitors {
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = DefaultVisitorIdleTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Visitors{
		factory: opts.Factory,
		ttl:     ttl,
		logger:  logger,
		now:     now,
		entries: make(map[string]*Visitor),
	}
}

// Get returns the activated auth context for key, creating it if needed.
func (v *Visitors) Get(ctx context.Context, key string) (*Visitor, error) {
	if key == "" {
		return nil, errors.New("visitor key is required")
	}
	if vis, ok := v.lookup(key); ok {
		return vis, nil
	}

	res, err, _ := v.group.Do(key, func() (any, error) {
		if vis, ok := v.lookup(key); ok {
			return vis, nil
		}
		return v.create(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	vis, ok := res.(*Visitor)
	if !ok {
		return nil, fmt.Errorf("unexpected visitor type %T", res)
	}
	return vis, nil
}

func (v *Visitors) lookup(key string) (*Visitor, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vis, ok := v.entries[key]
	if ok {
		vis.lastSeen = v.now()
	}
	return vis, ok
}

func (v *Visitors) create(ctx context.Context, key string) (*Visitor, error) {
	provider, err := v.factory.NewProvider(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("build identity provider: %w", err)
	}

	store := authstate.NewStore(provider, authstate.WithLogger(v.logger))
	if actErr := store.Activate(ctx); actErr != nil {
		if closeErr := provider.Close(); closeErr != nil {
			actErr = errors.Join(actErr, fmt.Errorf("close provider: %w", closeErr))
		}
		return nil, fmt.Errorf("activate auth state: %w", actErr)
	}

	vis := &Visitor{
		Key:      key,
		Store:    store,
		Gateway:  NewAuthGateway(AuthGatewayOptions{Provider: provider, Logger: v.logger}),
		provider: provider,
		lastSeen: v.now(),
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		_ = teardown(vis)
		return nil, errVisitorsClosed
	}
	v.entries[key] = vis
	v.mu.Unlock()

	return vis, nil
}

// Len reports the number of live visitor contexts.
func (v *Visitors) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Sweep tears down visitor contexts idle for longer than the TTL and returns how many were removed.
func (v *Visitors) Sweep(ctx context.Context) int {
	cutoff := v.now().Add(-v.ttl)

	v.mu.Lock()
	var idle []*Visitor
	for key, vis := range v.entries {
		if vis.lastSeen.Before(cutoff) {
			idle = append(idle, vis)
			delete(v.entries, key)
		}
	}
	v.mu.Unlock()

	for _, vis := range idle {
		if err := teardown(vis); err != nil {
			v.logger.WarnContext(ctx, "visitor teardown failed", "error", err)
		}
	}
	return len(idle)
}

// RunSweeper calls Sweep every interval until ctx ends.
func (v *Visitors) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := v.Sweep(ctx); n > 0 {
				v.logger.DebugContext(ctx, "swept idle visitors", "count", n)
			}
		}
	}
}

// Shutdown tears down every visitor context concurrently.
func (v *Visitors) Shutdown(ctx context.Context) error {
	v.mu.Lock()
	v.closed = true
	entries := v.entries
	v.entries = make(map[string]*Visitor)
	v.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, vis := range entries {
		g.Go(func() error { return teardown(vis) })
	}
	return g.Wait()
}

func teardown(vis *Visitor) error {
	vis.Store.Close()
	if err := vis.provider.Close(); err != nil {
		return fmt.Errorf("close provider for visitor %s: %w", vis.Key, err)
	}
	return nil
}
