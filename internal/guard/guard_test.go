package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/mocks"
	mockauth "github.com/target/portfolio-ui/internal/mocks/auth"
)

func signedIn() *domainauth.Identity {
	return &domainauth.Identity{ID: "u1", Email: "ada@example.com"}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		loading  bool
		identity *domainauth.Identity
		want     Decision
	}{
		{name: "loading without identity", loading: true, want: DecisionPlaceholder},
		{name: "loading with identity", loading: true, identity: signedIn(), want: DecisionPlaceholder},
		{name: "settled without identity", loading: false, want: DecisionRedirect},
		{name: "settled with identity", loading: false, identity: signedIn(), want: DecisionRender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.loading, tt.identity)
			assert.Equal(t, tt.want, got)
			// Redirect happens iff loading is false and identity is absent.
			assert.Equal(t, !tt.loading && tt.identity == nil, got == DecisionRedirect)
		})
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "placeholder", DecisionPlaceholder.String())
	assert.Equal(t, "redirect", DecisionRedirect.String())
	assert.Equal(t, "render", DecisionRender.String())
	assert.Equal(t, "unknown", Decision(42).String())
}

func TestNew_DefaultTarget(t *testing.T) {
	g := New(&mockauth.RecordingNavigator{}, "")
	assert.Equal(t, DefaultTarget, g.Target())
}

func TestGuard_LoadingNeverNavigates(t *testing.T) {
	ctrl := gomock.NewController(t)
	nav := mocks.NewMockNavigator(ctrl)
	nav.EXPECT().NavigateTo(gomock.Any()).Times(0)

	g := New(nav, "/")
	assert.Equal(t, DecisionPlaceholder, g.Evaluate(domainauth.State{Loading: true}))
	assert.Equal(t, DecisionPlaceholder, g.Evaluate(domainauth.State{Loading: true, Identity: signedIn()}))
}

func TestGuard_RedirectsOncePerEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	nav := mocks.NewMockNavigator(ctrl)
	nav.EXPECT().NavigateTo("/").Times(2)

	g := New(nav, "/")
	signedOut := domainauth.State{}

	assert.Equal(t, DecisionRedirect, g.Evaluate(signedOut))
	// Re-evaluating the same state does not navigate again.
	assert.Equal(t, DecisionRedirect, g.Evaluate(signedOut))

	assert.Equal(t, DecisionRender, g.Evaluate(domainauth.State{Identity: signedIn()}))
	// Leaving and re-entering the redirect branch navigates again.
	assert.Equal(t, DecisionRedirect, g.Evaluate(signedOut))
}

func TestGuard_RenderWhenSignedIn(t *testing.T) {
	ctrl := gomock.NewController(t)
	nav := mocks.NewMockNavigator(ctrl)

	g := New(nav, "/")
	assert.Equal(t, DecisionRender, g.Evaluate(domainauth.State{Identity: signedIn()}))
}

// Scenario: the viewer opens a protected view with a valid stored session.
func TestGuard_Scenario_StoredSession(t *testing.T) {
	nav := &mockauth.RecordingNavigator{}
	g := New(nav, "/")

	assert.Equal(t, DecisionPlaceholder, g.Evaluate(domainauth.State{Loading: true}))
	assert.Equal(t, DecisionRender, g.Evaluate(domainauth.State{Identity: signedIn()}))
	assert.Empty(t, nav.Paths())
}

// Scenario: the viewer has no session and lands on a protected view.
func TestGuard_Scenario_NoSession(t *testing.T) {
	nav := &mockauth.RecordingNavigator{}
	g := New(nav, "/")

	assert.Equal(t, DecisionPlaceholder, g.Evaluate(domainauth.State{Loading: true}))
	assert.Equal(t, DecisionRedirect, g.Evaluate(domainauth.State{}))
	assert.Equal(t, []string{"/"}, nav.Paths())
}

// Scenario: the viewer signs out while a protected view is open.
func TestGuard_Scenario_SignOutWhileViewing(t *testing.T) {
	nav := &mockauth.RecordingNavigator{}
	g := New(nav, "/")

	assert.Equal(t, DecisionRender, g.Evaluate(domainauth.State{Identity: signedIn()}))
	assert.Equal(t, DecisionRedirect, g.Evaluate(domainauth.State{}))
	assert.Equal(t, []string{"/"}, nav.Paths())
}

func TestGuard_RunFollowsStates(t *testing.T) {
	nav := &mockauth.RecordingNavigator{}
	g := New(nav, "/login")

	states := make(chan domainauth.State, 4)
	states <- domainauth.State{Loading: true}
	states <- domainauth.State{Identity: signedIn()}
	states <- domainauth.State{}
	states <- domainauth.State{}
	close(states)

	done := make(chan struct{})
	go func() {
		g.Run(context.Background(), states)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.Equal(t, []string{"/login"}, nav.Paths())
}

func TestGuard_RunStopsOnContext(t *testing.T) {
	g := New(&mockauth.RecordingNavigator{}, "/")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		g.Run(ctx, make(chan domainauth.State))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
