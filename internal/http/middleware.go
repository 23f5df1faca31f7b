package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/guard"
	"github.com/target/portfolio-ui/internal/service"
)

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so event streams work behind Logging.
func (w *respWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *respWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

const (
	// DefaultVisitorCookieName names the cookie identifying a browser's auth context.
	DefaultVisitorCookieName = "visitor_id"
	visitorCookieMaxAge      = 30 * 24 * 60 * 60
)

// VisitorRegistry resolves a browser's auth context by key.
type VisitorRegistry interface {
	Get(ctx context.Context, key string) (*service.Visitor, error)
	Len() int
}

// VisitorConfig configures the WithVisitor middleware.
type VisitorConfig struct {
	Registry     VisitorRegistry
	CookieName   string
	CookieDomain string
	Logger       *slog.Logger
}

// WithVisitor attaches the browser's auth context to the request, issuing a
// visitor cookie on first contact.
func WithVisitor(cfg VisitorConfig) func(http.Handler) http.Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultVisitorCookieName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := visitorKeyFromRequest(r, cfg.CookieName)
			if key == "" {
				key = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cfg.CookieName,
					Value:    key,
					Path:     "/",
					Domain:   cfg.CookieDomain,
					HttpOnly: true,
					Secure:   r.TLS != nil || isForwardedHTTPS(r),
					SameSite: http.SameSiteLaxMode,
					MaxAge:   visitorCookieMaxAge,
				})
			}

			vis, err := cfg.Registry.Get(r.Context(), key)
			if err != nil {
				cfg.Logger.ErrorContext(r.Context(), "resolve visitor auth context failed", "error", err)
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "auth_unavailable",
					Err:     errors.New("authentication is temporarily unavailable"),
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(SetVisitorInContext(r.Context(), vis)))
		})
	}
}

// visitorKeyFromRequest returns the visitor cookie value when it is a well-formed UUID.
func visitorKeyFromRequest(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

// SessionGateConfig configures the RequireSession middleware.
type SessionGateConfig struct {
	// ReadyTimeout bounds how long a request waits for loading to settle
	// before the placeholder is served. Zero means no wait.
	ReadyTimeout time.Duration
	// Target is where signed-out visitors are sent (default "/").
	Target   string
	Renderer *TemplateRenderer
	Logger   *slog.Logger
}

// RequireSession guards a route with the three-way auth decision: a loading
// placeholder while the initial session fetch is pending, a redirect when no
// identity is present, otherwise the wrapped handler with the state in context.
func RequireSession(cfg SessionGateConfig) func(http.Handler) http.Handler {
	if cfg.Target == "" {
		cfg.Target = guard.DefaultTarget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vis, ok := GetVisitorFromContext(r.Context())
			if !ok {
				WriteError(w, ErrorParams{
					Code:    http.StatusInternalServerError,
					ErrCode: "missing_visitor",
					Err:     errors.New("auth context not attached to request"),
				})
				return
			}

			st := awaitSettled(r.Context(), vis, cfg.ReadyTimeout)
			nav := &responseNavigator{w: w, r: r}
			switch guard.New(nav, cfg.Target).Evaluate(st) {
			case guard.DecisionPlaceholder:
				writePlaceholder(w, r, cfg)
			case guard.DecisionRedirect:
				// responseNavigator has written the redirect.
			case guard.DecisionRender:
				next.ServeHTTP(w, r.WithContext(SetAuthStateInContext(r.Context(), st)))
			}
		})
	}
}

// awaitSettled returns the visitor's state, waiting up to timeout for loading to settle.
func awaitSettled(ctx context.Context, vis *service.Visitor, timeout time.Duration) domainauth.State {
	st := vis.Store.Snapshot()
	if !st.Loading || timeout <= 0 {
		return st
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, _ = vis.Store.WaitReady(waitCtx)
	return st
}

func writePlaceholder(w http.ResponseWriter, r *http.Request, cfg SessionGateConfig) {
	w.Header().Set("Retry-After", "1")
	if wantsJSON(r) || cfg.Renderer == nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"loading": true})
		return
	}
	data := PageData{Title: "Loading", Loading: true, RefreshURL: r.URL.RequestURI(), CSRFToken: GetCSRFToken(r)}
	if err := cfg.Renderer.Render(w, http.StatusOK, "loading", data); err != nil {
		cfg.Logger.ErrorContext(r.Context(), "render loading page failed", "error", err)
	}
}

// responseNavigator carries a guard redirect out as the HTTP response.
type responseNavigator struct {
	w http.ResponseWriter
	r *http.Request
}

func (n *responseNavigator) NavigateTo(path string) {
	if wantsJSON(n.r) {
		WriteError(n.w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
			Extra:   map[string]any{"redirect_to": path},
		})
		return
	}
	http.Redirect(n.w, n.r, path, http.StatusFound)
}

// wantsJSON reports whether the client asked for JSON rather than a page.
func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
