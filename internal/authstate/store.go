// Package authstate keeps the in-process mirror of "who is signed in" for one
// identity provider client.
//
// A Store is constructed explicitly, activated once and torn down once. All
// state writes happen on a single loop goroutine fed by the provider's change
// notifications and the one-shot initial session fetch. Readers always see a
// consistent snapshot: identity and session are published together.
package authstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

var (
	// ErrClosed is returned when activating a store that has been torn down.
	ErrClosed = errors.New("auth state store closed")
	// ErrAlreadyActive is returned when Activate is called twice.
	ErrAlreadyActive = errors.New("auth state store already active")
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for fetch failures and discarded writes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the session store for a single provider client.
type Store struct {
	provider ports.IdentityProvider
	logger   *slog.Logger

	mu          sync.RWMutex
	state       domainauth.State
	watchers    map[int]chan domainauth.State
	nextWatcher int

	lifeMu sync.Mutex
	active bool
	closed bool
	cancel context.CancelFunc
	sub    ports.Subscription
	done   chan struct{}
}

type fetchResult struct {
	session *domainauth.Session
	err     error
}

// NewStore constructs an inactive store. Loading is true until Activate resolves.
func NewStore(provider ports.IdentityProvider, opts ...Option) *Store {
	s := &Store{
		provider: provider,
		logger:   slog.Default(),
		state:    domainauth.State{Loading: true},
		watchers: make(map[int]chan domainauth.State),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate subscribes to change notifications and issues the initial session
// fetch. It returns immediately; state settles asynchronously. The store lives
// until Close, independent of ctx cancellation.
func (s *Store) Activate(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.active {
		return ErrAlreadyActive
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.sub = s.provider.Subscribe()
	s.active = true

	fetched := make(chan fetchResult, 1)
	go func() {
		sess, err := s.provider.CurrentSession(runCtx)
		fetched <- fetchResult{session: sess, err: err}
	}()

	go s.loop(runCtx, s.sub.Events(), fetched)
	return nil
}

func (s *Store) loop(ctx context.Context, events <-chan domainauth.Event, fetched <-chan fetchResult) {
	defer close(s.done)

	sawEvent := false
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			sawEvent = true
			s.apply(ctx, ev.Session, nil)

		case res := <-fetched:
			fetched = nil
			if res.err != nil {
				s.logger.WarnContext(ctx, "initial session fetch failed; treating as signed out", "error", res.err)
			}
			if sawEvent {
				// A notification already carried newer state.
				continue
			}
			sess := res.session
			if res.err != nil {
				sess = nil
			}
			s.apply(ctx, sess, res.err)
		}
	}
}

// apply replaces identity and session wholesale and settles loading. It is a
// no-op once the store has been torn down.
func (s *Store) apply(ctx context.Context, sess *domainauth.Session, fetchErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		s.logger.Debug("discarding auth state write after teardown")
		return
	}

	next := domainauth.State{FetchErr: fetchErr}
	if sess != nil {
		sc := sess.Clone()
		id := sc.User.Clone()
		next.Session = &sc
		next.Identity = &id
	}
	s.state = next

	for _, ch := range s.watchers {
		offer(ch, next)
	}
}

// offer publishes st as the latest value on a single-slot channel.
func offer(ch chan domainauth.State, st domainauth.State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() domainauth.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns a copy of the current identity, or nil.
func (s *Store) Identity() *domainauth.Identity {
	st := s.Snapshot()
	if st.Identity == nil {
		return nil
	}
	id := st.Identity.Clone()
	return &id
}

// Session returns a copy of the current session, or nil.
func (s *Store) Session() *domainauth.Session {
	st := s.Snapshot()
	if st.Session == nil {
		return nil
	}
	sess := st.Session.Clone()
	return &sess
}

// Loading reports whether the first session resolution is still pending.
func (s *Store) Loading() bool {
	return s.Snapshot().Loading
}

// Watch returns a feed of state changes, starting with the current state. The
// channel holds only the latest unread state and is closed when ctx ends or the
// store is torn down.
func (s *Store) Watch(ctx context.Context) <-chan domainauth.State {
	ch := make(chan domainauth.State, 1)

	s.mu.Lock()
	ch <- s.state
	if s.isClosed() {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.dropWatcher(id)
	}()

	return ch
}

// WaitReady blocks until loading has settled or ctx ends.
func (s *Store) WaitReady(ctx context.Context) (domainauth.State, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for st := range s.Watch(watchCtx) {
		if !st.Loading {
			return st, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), ErrClosed
}

func (s *Store) dropWatcher(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(ch)
	}
}

func (s *Store) isClosed() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.closed
}

// Close unregisters the listener and stops all further state writes. Fetches
// or notifications that resolve afterwards are discarded. Safe to call more than once.
func (s *Store) Close() {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return
	}
	s.closed = true
	wasActive := s.active
	if wasActive {
		s.cancel()
		s.sub.Unsubscribe()
	}
	s.lifeMu.Unlock()

	s.mu.Lock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.mu.Unlock()

	if wasActive {
		<-s.done
	} else {
		close(s.done)
	}
}

// Done is closed once the store has been torn down.
func (s *Store) Done() <-chan struct{} { return s.done }
