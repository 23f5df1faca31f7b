package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	portfolio "github.com/target/portfolio-ui"
	"github.com/target/portfolio-ui/config"
	httpx "github.com/target/portfolio-ui/internal/http"
)

// devTemplateDir is read from disk in dev mode so template edits need no rebuild.
const devTemplateDir = "frontend/templates"

// NewRenderer builds the page renderer from embedded templates, or from disk in dev mode.
func NewRenderer(isDev bool, logger *slog.Logger) (*httpx.TemplateRenderer, error) {
	var fsys fs.FS
	if isDev {
		fsys = os.DirFS(devTemplateDir)
	} else {
		sub, err := fs.Sub(portfolio.TemplateFS, devTemplateDir)
		if err != nil {
			return nil, fmt.Errorf("open embedded templates: %w", err)
		}
		fsys = sub
	}
	return httpx.NewTemplateRenderer(httpx.TemplateRendererConfig{TemplateFS: fsys, Logger: logger})
}

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
	// StreamsClosing is closed when the server starts shutting down.
	StreamsClosing <-chan struct{}
}

// BuildHTTPHandler wires the router and the outer middleware.
// Order: Recover -> Logging -> Router.
func BuildHTTPHandler(cfg *HTTPServerConfig) http.Handler {
	router := httpx.NewRouter(httpx.RouterServices{
		Visitors:       cfg.Services.Visitors,
		Renderer:       cfg.Services.Renderer,
		ReadyTimeout:   cfg.Config.Sessions.ReadyTimeout,
		CookieDomain:   cfg.Config.HTTP.CookieDomain,
		Logger:         cfg.Logger,
		StreamsClosing: cfg.StreamsClosing,
	})

	h := httpx.Logging(cfg.Logger)(router)
	h = httpx.Recover(cfg.Logger)(h)
	return h
}

// StartHTTPServer creates and starts the HTTP server. Listen failures are sent on errCh.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig, errCh chan<- error) *http.Server {
	addr := cfg.Config.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	// Shutdown waits for connections to go idle; event streams never do on
	// their own, so they are told to end as soon as Shutdown begins.
	streams, closeStreams := context.WithCancel(context.Background())
	handlerCfg := *cfg
	handlerCfg.StreamsClosing = streams.Done()

	server := &http.Server{
		Addr:              addr,
		Handler:           BuildHTTPHandler(&handlerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the dashboard event stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	server.RegisterOnShutdown(closeStreams)

	go func() {
		cfg.Logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	return server
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	if server == nil {
		return nil
	}
	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
