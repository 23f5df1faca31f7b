package httpx

import (
	"context"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/service"
)

// Unexported context key types avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same keys.
type (
	visitorKey   struct{}
	authStateKey struct{}
)

// SetVisitorInContext returns a child context that carries the visitor auth context.
// If vis is nil, the original ctx is returned unchanged.
func SetVisitorInContext(ctx context.Context, vis *service.Visitor) context.Context {
	if vis == nil {
		return ctx
	}
	return context.WithValue(ctx, visitorKey{}, vis)
}

// GetVisitorFromContext returns the visitor auth context and a boolean indicating presence.
func GetVisitorFromContext(ctx context.Context) (*service.Visitor, bool) {
	if vis, ok := ctx.Value(visitorKey{}).(*service.Visitor); ok && vis != nil {
		return vis, true
	}
	return nil, false
}

// SetAuthStateInContext stores the auth state a protected route was admitted with.
func SetAuthStateInContext(ctx context.Context, st domainauth.State) context.Context {
	return context.WithValue(ctx, authStateKey{}, st)
}

// GetAuthStateFromContext returns the admitted auth state, if RequireSession ran.
func GetAuthStateFromContext(ctx context.Context) (domainauth.State, bool) {
	st, ok := ctx.Value(authStateKey{}).(domainauth.State)
	return st, ok
}

// CurrentAuthState returns the admitted state when present, otherwise the
// visitor's latest snapshot. Requests with no visitor report signed out.
func CurrentAuthState(ctx context.Context) domainauth.State {
	if st, ok := GetAuthStateFromContext(ctx); ok {
		return st
	}
	if vis, ok := GetVisitorFromContext(ctx); ok {
		return vis.Store.Snapshot()
	}
	return domainauth.State{}
}
