package authstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	mockauth "github.com/target/portfolio-ui/internal/mocks/auth"
)

const waitFor = 2 * time.Second

func settled(t *testing.T, s *Store) domainauth.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	st, err := s.WaitReady(ctx)
	require.NoError(t, err)
	return st
}

// loadingTrace records the loading flag as seen on a Watch feed, collapsing
// repeats. A store that settles exactly once yields [true false].
func loadingTrace(t *testing.T, s *Store) func() []bool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var (
		mu    sync.Mutex
		trace []bool
	)
	ch := s.Watch(ctx)
	go func() {
		for st := range ch {
			mu.Lock()
			if len(trace) == 0 || trace[len(trace)-1] != st.Loading {
				trace = append(trace, st.Loading)
			}
			mu.Unlock()
		}
	}()
	return func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), trace...)
	}
}

func TestStore_LoadingUntilActivated(t *testing.T) {
	s := NewStore(mockauth.NewMockIdentityProvider())
	t.Cleanup(s.Close)

	assert.True(t, s.Loading())
	assert.Nil(t, s.Identity())
	assert.Nil(t, s.Session())
}

func TestStore_InitialFetchWithSession(t *testing.T) {
	p := mockauth.NewMockIdentityProvider()
	sess := mockauth.NewSession("ada@example.com")
	p.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) { return sess, nil }

	s := NewStore(p)
	t.Cleanup(s.Close)
	require.NoError(t, s.Activate(context.Background()))

	st := settled(t, s)
	require.NotNil(t, st.Identity)
	assert.Equal(t, "ada@example.com", st.Identity.Email)
	require.NotNil(t, st.Session)
	assert.Equal(t, sess.AccessToken, st.Session.AccessToken)
	assert.Equal(t, 1, p.Subscribers())
	assert.Equal(t, 1, p.FetchCalls())
}

func TestStore_InitialFetchWithoutSession(t *testing.T) {
	s := NewStore(mockauth.NewMockIdentityProvider())
	t.Cleanup(s.Close)
	require.NoError(t, s.Activate(context.Background()))

	st := settled(t, s)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Identity)
	assert.Nil(t, st.Session)
	assert.NoError(t, st.FetchErr)
}

func TestStore_FetchFailureSettlesSignedOut(t *testing.T) {
	p := mockauth.NewMockIdentityProvider()
	fetchErr := errors.New("network unreachable")
	p.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) {
		return mockauth.NewSession("stale@example.com"), fetchErr
	}

	s := NewStore(p)
	t.Cleanup(s.Close)
	require.NoError(t, s.Activate(context.Background()))

	st := settled(t, s)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Identity, "a failed fetch never publishes an identity")
	assert.ErrorIs(t, st.FetchErr, fetchErr)
}

func TestStore_NotificationsLastWriteWins(t *testing.T) {
	p := mockauth.NewMockIdentityProvider()
	s := NewStore(p)
	t.Cleanup(s.Close)
	require.NoError(t, s.Activate(context.Background()))
	settled(t, s)

	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("first@example.com"))
	p.Emit(domainauth.EventTokenRefreshed, mockauth.NewSession("second@example.com"))
	p.Emit(domainauth.EventSignedOut, nil)
	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("third@example.com"))

	assert.Eventually(t, func() bool {
		id := s.Identity()
		return id != nil && id.Email == "third@example.com"
	}, waitFor, 5*time.Millisecond)

	st := s.Snapshot()
	require.NotNil(t, st.Session)
	assert.Equal(t, st.Identity.ID, st.Session.User.ID, "identity and session are published together")
}

func TestStore_SignedOutNotificationClearsBoth(t *testing.T) {
	p := mockauth.NewMockIdentityProvider()
	p.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) {
		return mockauth.NewSession("ada@example.com"), nil
	}
	s := NewStore(p)
	t.Cleanup(s.Close)
	require.NoError(t, s.Activate(context.Background()))
	require.NotNil(t, settled(t, s).Identity)

	p.Emit(domainauth.EventSignedOut, nil)

	assert.Eventually(t, func() bool {
		st := s.Snapshot()
		return st.Identity == nil && st.Session == nil
	}, waitFor, 5*time.Millisecond)
}

func TestStore_LoadingSettlesOnce_FetchFirst(t *testing.T) {
	p := mockauth.NewDelayedIdentityProvider()
	s := NewStore(p)
	t.Cleanup(s.Close)
	trace := loadingTrace(t, s)
	require.NoError(t, s.Activate(context.Background()))

	assert.True(t, s.Loading())
	p.FetchReplies <- mockauth.FetchReply{}
	settled(t, s)

	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("ada@example.com"))
	p.Emit(domainauth.EventSignedOut, nil)
	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("ada@example.com"))
	assert.Eventually(t, func() bool { return s.Identity() != nil }, waitFor, 5*time.Millisecond)

	assert.False(t, s.Loading())
	assert.Eventually(t, func() bool { return len(trace()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, trace())
}

func TestStore_LoadingSettlesOnce_NotificationFirst(t *testing.T) {
	p := mockauth.NewDelayedIdentityProvider()
	s := NewStore(p)
	t.Cleanup(s.Close)
	trace := loadingTrace(t, s)
	require.NoError(t, s.Activate(context.Background()))

	require.Eventually(t, func() bool { return p.Subscribers() == 1 }, waitFor, 5*time.Millisecond)
	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("ada@example.com"))
	st := settled(t, s)
	require.NotNil(t, st.Identity)

	// The fetch resolves late with an older answer; the notification wins.
	p.FetchReplies <- mockauth.FetchReply{}

	assert.Never(t, func() bool { return s.Identity() == nil }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, trace())
}

func TestStore_NoWritesAfterClose(t *testing.T) {
	p := mockauth.NewDelayedIdentityProvider()
	s := NewStore(p)
	require.NoError(t, s.Activate(context.Background()))
	require.Eventually(t, func() bool { return p.Subscribers() == 1 }, waitFor, 5*time.Millisecond)

	s.Close()
	assert.Equal(t, 0, p.Subscribers(), "listener is unregistered on teardown")

	// A fetch resolving after teardown must not touch state.
	p.FetchReplies <- mockauth.FetchReply{Session: mockauth.NewSession("late@example.com")}
	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("later@example.com"))

	assert.Never(t, func() bool { return !s.Loading() || s.Identity() != nil }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestStore_ActivateTwice(t *testing.T) {
	s := NewStore(mockauth.NewMockIdentityProvider())
	t.Cleanup(s.Close)

	require.NoError(t, s.Activate(context.Background()))
	assert.ErrorIs(t, s.Activate(context.Background()), ErrAlreadyActive)
}

func TestStore_ActivateAfterClose(t *testing.T) {
	s := NewStore(mockauth.NewMockIdentityProvider())
	s.Close()

	assert.ErrorIs(t, s.Activate(context.Background()), ErrClosed)
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s := NewStore(mockauth.NewMockIdentityProvider())
	require.NoError(t, s.Activate(context.Background()))

	s.Close()
	s.Close()
}

func TestStore_LifetimeIndependentOfActivateContext(t *testing.T) {
	p := mockauth.NewMockIdentityProvider()
	s := NewStore(p)
	t.Cleanup(s.Close)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Activate(ctx))
	settled(t, s)
	cancel()

	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("ada@example.com"))
	assert.Eventually(t, func() bool { return s.Identity() != nil }, waitFor, 5*time.Millisecond)
}

func TestStore_WatchDeliversCurrentThenLatest(t *testing.T) {
	p := mockauth.NewMockIdentityProvider()
	s := NewStore(p)
	t.Cleanup(s.Close)
	require.NoError(t, s.Activate(context.Background()))
	settled(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Watch(ctx)

	first := <-ch
	assert.False(t, first.Loading)
	assert.Nil(t, first.Identity)

	p.Emit(domainauth.EventSignedIn, mockauth.NewSession("ada@example.com"))
	select {
	case st := <-ch:
		require.NotNil(t, st.Identity)
		assert.Equal(t, "ada@example.com", st.Identity.Email)
	case <-time.After(waitFor):
		t.Fatal("no state delivered to watcher")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, waitFor, 5*time.Millisecond)
}

func TestStore_WatchClosedOnTeardown(t *testing.T) {
	s := NewStore(mockauth.NewMockIdentityProvider())
	require.NoError(t, s.Activate(context.Background()))

	ch := s.Watch(context.Background())
	<-ch
	s.Close()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestStore_WaitReadyHonoursContext(t *testing.T) {
	p := mockauth.NewDelayedIdentityProvider()
	s := NewStore(p)
	t.Cleanup(func() {
		s.Close()
		p.FetchReplies <- mockauth.FetchReply{}
	})
	require.NoError(t, s.Activate(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := s.WaitReady(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, st.Loading)
}

func TestStore_SnapshotAccessorsReturnCopies(t *testing.T) {
	p := mockauth.NewMockIdentityProvider()
	p.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) {
		return mockauth.NewSession("ada@example.com"), nil
	}
	s := NewStore(p)
	t.Cleanup(s.Close)
	require.NoError(t, s.Activate(context.Background()))
	settled(t, s)

	id := s.Identity()
	id.Email = "mallory@example.com"
	id.Metadata["full_name"] = "Mallory"

	again := s.Identity()
	assert.Equal(t, "ada@example.com", again.Email)
	assert.Equal(t, "Mock User", again.Metadata["full_name"])
}
