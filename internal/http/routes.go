package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/target/portfolio-ui/internal/guard"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Visitors VisitorRegistry
	Renderer *TemplateRenderer
	// ReadyTimeout bounds how long /dashboard waits for the initial session fetch.
	ReadyTimeout time.Duration
	CookieDomain string
	Logger       *slog.Logger
	// StreamsClosing ends open event streams on server shutdown (optional).
	StreamsClosing <-chan struct{}
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	withVisitor := WithVisitor(VisitorConfig{
		Registry:     services.Visitors,
		CookieDomain: services.CookieDomain,
		Logger:       logger,
	})
	csrf := CSRFProtection(CSRFConfig{CookieDomain: services.CookieDomain})
	requireSession := RequireSession(SessionGateConfig{
		ReadyTimeout: services.ReadyTimeout,
		Target:       guard.DefaultTarget,
		Renderer:     services.Renderer,
		Logger:       logger,
	})

	pages := &PageHandlers{Renderer: services.Renderer, Logger: logger}
	auth := &AuthHandlers{Renderer: services.Renderer, Logger: logger}
	events := &GuardEventHandlers{
		Registry: services.Visitors,
		Target:   guard.DefaultTarget,
		Logger:   logger,
		Closing:  services.StreamsClosing,
	}

	browser := func(h http.HandlerFunc) http.Handler { return csrf(withVisitor(h)) }

	mux.Handle("GET /{$}", browser(pages.Home))
	mux.Handle("GET /dashboard", csrf(withVisitor(requireSession(http.HandlerFunc(pages.Dashboard)))))
	mux.Handle("GET "+DefaultEventsPath, withVisitor(http.HandlerFunc(events.Stream)))

	mux.Handle("POST /auth/sign-in", browser(auth.SignIn))
	mux.Handle("POST /auth/sign-up", browser(auth.SignUp))
	mux.Handle("POST /auth/sign-out", browser(auth.SignOut))
	mux.Handle("GET /auth/status", withVisitor(http.HandlerFunc(auth.Status)))

	health := healthHandler(services.Visitors)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	return mux
}
