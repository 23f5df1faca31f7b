package httpx

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	mockauth "github.com/target/portfolio-ui/internal/mocks/auth"
	"github.com/target/portfolio-ui/internal/service"
)

// openStream connects to the guard event stream and returns a line reader.
func openStream(t *testing.T, srv *httptest.Server, key string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+DefaultEventsPath, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: DefaultVisitorCookieName, Value: key})

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	return bufio.NewReader(res.Body), func() {
		cancel()
		_ = res.Body.Close()
	}
}

// readUntil returns the first line with prefix, or fails after timeout.
func readUntil(t *testing.T, r *bufio.Reader, prefix string) string {
	t.Helper()
	lines := make(chan string, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			if strings.HasPrefix(line, prefix) {
				lines <- strings.TrimSpace(line)
				return
			}
		}
	}()
	select {
	case line, ok := <-lines:
		require.True(t, ok, "stream ended before %q", prefix)
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("no %q line on stream", prefix)
		return ""
	}
}

func TestGuardEvents_NavigatesOnSignOut(t *testing.T) {
	env := newTestEnv(t, time.Second)
	p := signedInProvider("ada@example.com")
	key, _ := env.visitor(t, p)

	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)
	r, closeStream := openStream(t, srv, key)
	defer closeStream()

	require.Eventually(t, func() bool { return p.Subscribers() >= 1 }, time.Second, 5*time.Millisecond)
	p.Emit(domainauth.EventSignedOut, nil)

	assert.Equal(t, "event: navigate", readUntil(t, r, "event:"))
	assert.Equal(t, `data: {"to":"/"}`, readUntil(t, r, "data:"))

	// The stream ends after the navigation.
	_, err := io.ReadAll(r)
	assert.NoError(t, err)
}

func TestGuardEvents_SignedOutVisitorNavigatesImmediately(t *testing.T) {
	env := newTestEnv(t, time.Second)
	key, _ := env.visitor(t, mockauth.NewMockIdentityProvider())

	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)
	r, closeStream := openStream(t, srv, key)
	defer closeStream()

	assert.Equal(t, "event: navigate", readUntil(t, r, "event:"))
}

func TestGuardEvents_HeartbeatTouchesVisitor(t *testing.T) {
	env := newTestEnv(t, time.Second)
	key, _ := env.visitor(t, signedInProvider("ada@example.com"))

	events := &GuardEventHandlers{Registry: env.visitors, Target: "/", Logger: discardLogger(), Heartbeat: 10 * time.Millisecond}
	h := WithVisitor(VisitorConfig{Registry: env.visitors, Logger: discardLogger()})(http.HandlerFunc(events.Stream))

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	r, closeStream := openStream(t, srv, key)
	defer closeStream()

	assert.Equal(t, ": ping", readUntil(t, r, ":"))
}

func TestGuardEvents_MissingVisitor(t *testing.T) {
	events := &GuardEventHandlers{Target: "/"}
	rec := httptest.NewRecorder()
	events.Stream(rec, httptest.NewRequest(http.MethodGet, DefaultEventsPath, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// slowRegistry delays every Get so a heartbeat tick is still in flight when
// the stream ends.
type slowRegistry struct {
	VisitorRegistry
	delay time.Duration
}

func (s slowRegistry) Get(ctx context.Context, key string) (*service.Visitor, error) {
	time.Sleep(s.delay)
	return s.VisitorRegistry.Get(ctx, key)
}

// lateWriteRecorder counts writes made after the handler has returned.
type lateWriteRecorder struct {
	*httptest.ResponseRecorder
	returned atomic.Bool
	late     atomic.Int32
}

func (l *lateWriteRecorder) Write(b []byte) (int, error) {
	if l.returned.Load() {
		l.late.Add(1)
	}
	return l.ResponseRecorder.Write(b)
}

func (l *lateWriteRecorder) Flush() {
	if l.returned.Load() {
		l.late.Add(1)
	}
}

func TestGuardEvents_NoWritesAfterStreamReturns(t *testing.T) {
	env := newTestEnv(t, time.Second)
	_, vis := env.visitor(t, signedInProvider("ada@example.com"))

	events := &GuardEventHandlers{
		Registry:  slowRegistry{VisitorRegistry: env.visitors, delay: 50 * time.Millisecond},
		Target:    "/",
		Logger:    discardLogger(),
		Heartbeat: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, DefaultEventsPath, nil).WithContext(SetVisitorInContext(ctx, vis))
	rec := &lateWriteRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		events.Stream(rec, req)
		rec.returned.Store(true)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the client went away")
	}

	// Give any stray heartbeat time to fire.
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.late.Load())
}
