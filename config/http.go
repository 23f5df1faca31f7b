package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the site (e.g., "https://portfolio.example.com").
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for visitor and CSRF cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}

// SessionsConfig controls the lifetime of per-visitor auth contexts.
type SessionsConfig struct {
	// IdleTTL is how long an unused visitor context is kept before teardown.
	IdleTTL time.Duration `env:"VISITOR_IDLE_TTL" envDefault:"30m"`

	// SweepInterval is how often idle visitor contexts are collected.
	SweepInterval time.Duration `env:"VISITOR_SWEEP_INTERVAL" envDefault:"1m"`

	// ReadyTimeout bounds how long a protected page waits for auth state
	// before rendering the loading placeholder.
	ReadyTimeout time.Duration `env:"VISITOR_READY_TIMEOUT" envDefault:"750ms"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionsConfig) Sanitize() {
	if s.IdleTTL < time.Minute {
		s.IdleTTL = time.Minute
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Minute
	}
	if s.ReadyTimeout < 0 {
		s.ReadyTimeout = 0
	}
}
