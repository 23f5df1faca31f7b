package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	mockauth "github.com/target/portfolio-ui/internal/mocks/auth"
	"github.com/target/portfolio-ui/internal/service"
)

const testCSRFToken = "test-csrf-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRenderer(t *testing.T) *TemplateRenderer {
	t.Helper()
	r, err := NewTemplateRenderer(TemplateRendererConfig{
		TemplateFS: os.DirFS("../../frontend/templates"),
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	return r
}

// testEnv is a router backed by a real visitor registry and mock identity providers.
type testEnv struct {
	factory  *mockauth.MockProviderFactory
	visitors *service.Visitors
	handler  http.Handler
}

func newTestEnv(t *testing.T, readyTimeout time.Duration) *testEnv {
	t.Helper()
	factory := mockauth.NewMockProviderFactory()
	visitors := service.NewVisitors(service.VisitorsOptions{Factory: factory, Logger: discardLogger()})
	t.Cleanup(func() { _ = visitors.Shutdown(context.Background()) })

	return &testEnv{
		factory:  factory,
		visitors: visitors,
		handler: NewRouter(RouterServices{
			Visitors:     visitors,
			Renderer:     newTestRenderer(t),
			ReadyTimeout: readyTimeout,
			Logger:       discardLogger(),
		}),
	}
}

// signedInProvider returns a provider whose stored session belongs to email.
func signedInProvider(email string) *mockauth.MockIdentityProvider {
	p := mockauth.NewMockIdentityProvider()
	p.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) {
		return mockauth.NewSession(email), nil
	}
	return p
}

// visitor creates the auth context for a fresh key using p and waits for it to settle.
func (e *testEnv) visitor(t *testing.T, p *mockauth.MockIdentityProvider) (string, *service.Visitor) {
	t.Helper()
	key := uuid.NewString()
	e.factory.NewFunc = func(string) (*mockauth.MockIdentityProvider, error) { return p, nil }
	vis, err := e.visitors.Get(context.Background(), key)
	e.factory.NewFunc = nil
	require.NoError(t, err)

	if p.FetchReplies == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err = vis.Store.WaitReady(ctx)
		require.NoError(t, err)
	}
	return key, vis
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func withVisitorCookie(req *http.Request, key string) *http.Request {
	if key != "" {
		req.AddCookie(&http.Cookie{Name: DefaultVisitorCookieName, Value: key})
	}
	return req
}

func getRequest(path, visitorKey string) *http.Request {
	return withVisitorCookie(httptest.NewRequest(http.MethodGet, path, nil), visitorKey)
}

func jsonGetRequest(path, visitorKey string) *http.Request {
	req := getRequest(path, visitorKey)
	req.Header.Set("Accept", "application/json")
	return req
}

// formPost builds a browser form submission carrying a valid CSRF token.
func formPost(path string, vals url.Values, visitorKey string) *http.Request {
	if vals == nil {
		vals = url.Values{}
	}
	vals.Set(DefaultCSRFCookieName, testCSRFToken)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: testCSRFToken})
	return withVisitorCookie(req, visitorKey)
}

// jsonPost builds a script submission carrying the CSRF header.
func jsonPost(path, body, visitorKey string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DefaultCSRFHeaderName, testCSRFToken)
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: testCSRFToken})
	return withVisitorCookie(req, visitorKey)
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
