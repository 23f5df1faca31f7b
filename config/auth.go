package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents which identity provider backs the site.
type AuthMode string

const (
	// AuthModeSupabase uses Supabase Auth (GoTrue).
	AuthModeSupabase AuthMode = "supabase"
	// AuthModeOIDC uses a generic OIDC provider with the password grant.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeMock uses in-memory dev accounts (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "supabase", "oidc", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: supabase, oidc, mock)", v)
	}
}

// SupabaseConfig contains Supabase project configuration.
type SupabaseConfig struct {
	URL           string        `env:"URL"`
	AnonKey       string        `env:"ANON_KEY"`
	AutoRefresh   bool          `env:"AUTO_REFRESH"   envDefault:"true"`
	RefreshMargin time.Duration `env:"REFRESH_MARGIN" envDefault:"90s"`
}

// OIDCConfig contains OIDC/OAuth configuration.
type OIDCConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
}

// DevAuthConfig controls mock/dev authentication.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	Email               string `env:"EMAIL"                envDefault:"dev@example.com"`
	Password            string `env:"PASSWORD"             envDefault:"password"`
	RequireConfirmation bool   `env:"REQUIRE_CONFIRMATION" envDefault:"false"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"supabase"`

	// Supabase configuration (used when Mode=supabase).
	Supabase SupabaseConfig `envPrefix:"SUPABASE_"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"OIDC_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.Supabase.URL = strings.TrimSuffix(strings.TrimSpace(a.Supabase.URL), "/")
	if a.Supabase.RefreshMargin < 10*time.Second {
		a.Supabase.RefreshMargin = 10 * time.Second
	}
}

// Validate reports missing settings for the selected mode.
func (a *AuthConfig) Validate() error {
	switch a.Mode {
	case AuthModeSupabase:
		if a.Supabase.URL == "" || a.Supabase.AnonKey == "" {
			return fmt.Errorf("auth mode %s requires SUPABASE_URL and SUPABASE_ANON_KEY", a.Mode)
		}
	case AuthModeOIDC:
		if a.OIDC.ClientID == "" || a.OIDC.DiscoveryURL == "" {
			return fmt.Errorf("auth mode %s requires OIDC_CLIENT_ID and OIDC_DISCOVERY_URL", a.Mode)
		}
	case AuthModeMock:
	default:
		return fmt.Errorf("unknown auth mode %q", a.Mode)
	}
	return nil
}
