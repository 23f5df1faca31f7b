package service

import (
	"context"
	"log/slog"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	apperrors "github.com/target/portfolio-ui/internal/errors"
	"github.com/target/portfolio-ui/internal/ports"
)

// AuthGatewayOptions groups dependencies for AuthGateway.
type AuthGatewayOptions struct {
	Provider ports.IdentityProvider
	Logger   *slog.Logger
}

// AuthGateway is a call-through layer over the identity provider. It never
// mutates auth state itself; the provider's change notification does that.
type AuthGateway struct {
	provider ports.IdentityProvider
	logger   *slog.Logger
}

// NewAuthGateway constructs a new AuthGateway.
func NewAuthGateway(opts AuthGatewayOptions) *AuthGateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthGateway{
		provider: opts.Provider,
		logger:   logger,
	}
}

// SignIn begins a session. Provider errors are returned unchanged.
func (g *AuthGateway) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	creds, err := credentials(email, password)
	if err != nil {
		return nil, err
	}

	sess, err := g.provider.SignInWithPassword(ctx, creds)
	if err != nil {
		g.logger.InfoContext(ctx, "sign-in rejected by provider", "error", err)
		return nil, err
	}
	return sess, nil
}

// SignUp creates an account. Provider errors are returned unchanged.
func (g *AuthGateway) SignUp(ctx context.Context, email, password string) (*domainauth.SignUpResult, error) {
	creds, err := credentials(email, password)
	if err != nil {
		return nil, err
	}

	res, err := g.provider.SignUp(ctx, creds)
	if err != nil {
		g.logger.InfoContext(ctx, "sign-up rejected by provider", "error", err)
		return nil, err
	}
	return res, nil
}

// SignOut ends the current session. Provider errors are returned unchanged.
func (g *AuthGateway) SignOut(ctx context.Context) error {
	if err := g.provider.SignOut(ctx); err != nil {
		g.logger.WarnContext(ctx, "sign-out failed", "error", err)
		return err
	}
	return nil
}

// credentials only checks what is needed to submit the request; the provider
// performs credential validation.
func credentials(email, password string) (domainauth.Credentials, error) {
	if email == "" {
		return domainauth.Credentials{}, apperrors.ValidationField("email", "email is required")
	}
	if password == "" {
		return domainauth.Credentials{}, apperrors.ValidationField("password", "password is required")
	}
	return domainauth.Credentials{Email: email, Password: password}, nil
}
