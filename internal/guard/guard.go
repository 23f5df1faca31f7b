// Package guard decides whether a viewer may see a protected view based on
// the current auth state.
package guard

import (
	"context"
	"sync"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

// DefaultTarget is the public entry view unauthenticated viewers are sent to.
const DefaultTarget = "/"

// Decision is the outcome of evaluating a protected view.
type Decision int

const (
	// DecisionPlaceholder means state is still loading; render a placeholder and do nothing else.
	DecisionPlaceholder Decision = iota
	// DecisionRedirect means there is no identity; send the viewer to the public entry view.
	DecisionRedirect
	// DecisionRender means the viewer is signed in; render the protected view.
	DecisionRender
)

func (d Decision) String() string {
	switch d {
	case DecisionPlaceholder:
		return "placeholder"
	case DecisionRedirect:
		return "redirect"
	case DecisionRender:
		return "render"
	default:
		return "unknown"
	}
}

// Decide maps (loading, identity) to a decision. It redirects if and only if
// loading is false and identity is nil.
func Decide(loading bool, identity *domainauth.Identity) Decision {
	switch {
	case loading:
		return DecisionPlaceholder
	case identity == nil:
		return DecisionRedirect
	default:
		return DecisionRender
	}
}

// Guard evaluates successive states for one mounted protected view and
// navigates away only when the redirect branch is freshly entered.
type Guard struct {
	nav    ports.Navigator
	target string

	mu   sync.Mutex
	last Decision
	seen bool
}

// New creates a guard that redirects to target ("/" when empty).
func New(nav ports.Navigator, target string) *Guard {
	if target == "" {
		target = DefaultTarget
	}
	return &Guard{nav: nav, target: target}
}

// Target returns the redirect destination.
func (g *Guard) Target() string { return g.target }

// Evaluate applies the policy to st and returns the decision.
func (g *Guard) Evaluate(st domainauth.State) Decision {
	d := Decide(st.Loading, st.Identity)

	g.mu.Lock()
	fresh := !g.seen || g.last != d
	g.last = d
	g.seen = true
	g.mu.Unlock()

	if d == DecisionRedirect && fresh {
		g.nav.NavigateTo(g.target)
	}
	return d
}

// Run evaluates every state received until the channel closes or ctx ends.
func (g *Guard) Run(ctx context.Context, states <-chan domainauth.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			g.Evaluate(st)
		}
	}
}
