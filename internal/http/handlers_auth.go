package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	apperrors "github.com/target/portfolio-ui/internal/errors"
	"github.com/target/portfolio-ui/internal/guard"
	"github.com/target/portfolio-ui/internal/service"
)

const (
	// DefaultSignedInPath is where a successful sign-in lands.
	DefaultSignedInPath = "/dashboard"
	// defaultSettleTimeout bounds how long a handler waits for the provider's
	// change notification to reach the store before redirecting.
	defaultSettleTimeout = 2 * time.Second

	confirmationNotice = "Check your email to confirm your account, then sign in."
)

// AuthHandlers provides HTTP handlers for the sign-in, sign-up and sign-out forms.
type AuthHandlers struct {
	Renderer *TemplateRenderer
	Logger   *slog.Logger
	// SettleTimeout overrides defaultSettleTimeout (optional).
	SettleTimeout time.Duration
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) settleTimeout() time.Duration {
	if h.SettleTimeout > 0 {
		return h.SettleTimeout
	}
	return defaultSettleTimeout
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func toUserResponse(id *domainauth.Identity) *userResponse {
	if id == nil {
		return nil
	}
	return &userResponse{ID: id.ID, Email: id.Email, Metadata: id.Metadata}
}

// SignIn handles POST /auth/sign-in.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	vis, creds, ok := h.prepare(w, r)
	if !ok {
		return
	}

	sess, err := vis.Gateway.SignIn(r.Context(), creds.Email, creds.Password)
	if err != nil {
		h.fail(w, r, creds.Email, err)
		return
	}

	h.awaitStore(r.Context(), vis, func(st domainauth.State) bool { return st.Authenticated() })
	h.signedIn(w, r, &sess.User)
}

// SignUp handles POST /auth/sign-up. When the provider requires email
// confirmation the form is shown again with a notice.
func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	vis, creds, ok := h.prepare(w, r)
	if !ok {
		return
	}

	res, err := vis.Gateway.SignUp(r.Context(), creds.Email, creds.Password)
	if err != nil {
		h.fail(w, r, creds.Email, err)
		return
	}

	if res.Session == nil {
		if wantsJSON(r) {
			WriteJSON(w, http.StatusOK, map[string]any{
				"confirmation_pending": res.ConfirmationPending,
				"user":                 toUserResponse(&res.User),
			})
			return
		}
		h.renderHome(w, r, http.StatusOK, PageData{Email: creds.Email, Notice: confirmationNotice})
		return
	}

	h.awaitStore(r.Context(), vis, func(st domainauth.State) bool { return st.Authenticated() })
	h.signedIn(w, r, &res.User)
}

// SignOut handles POST /auth/sign-out.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	vis, ok := GetVisitorFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.Unauthorized("no active session"))
		return
	}

	if err := vis.Gateway.SignOut(r.Context()); err != nil {
		h.fail(w, r, "", err)
		return
	}

	h.awaitStore(r.Context(), vis, func(st domainauth.State) bool { return !st.Authenticated() })
	if wantsJSON(r) {
		WriteJSON(w, http.StatusOK, map[string]any{"signed_out": true, "redirect_to": guard.DefaultTarget})
		return
	}
	http.Redirect(w, r, guard.DefaultTarget, http.StatusSeeOther)
}

// Status handles GET /auth/status and reports the visitor's current auth state.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	st := CurrentAuthState(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"loading":       st.Loading,
		"authenticated": st.Authenticated(),
		"user":          toUserResponse(st.Identity),
	})
}

// prepare resolves the visitor and reads credentials from a form or JSON body.
func (h *AuthHandlers) prepare(w http.ResponseWriter, r *http.Request) (*service.Visitor, credentialsRequest, bool) {
	var creds credentialsRequest
	vis, ok := GetVisitorFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "missing_visitor",
			Err:     errors.New("auth context not attached to request"),
		})
		return nil, creds, false
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !DecodeJSON(w, r, &creds) {
			return nil, creds, false
		}
	} else {
		if err := r.ParseForm(); err != nil {
			WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid form submission"))
			return nil, creds, false
		}
		creds.Email = r.PostFormValue("email")
		creds.Password = r.PostFormValue("password")
	}
	creds.Email = strings.TrimSpace(creds.Email)
	return vis, creds, true
}

// fail reports a gateway error. Provider messages are shown to the user as-is.
func (h *AuthHandlers) fail(w http.ResponseWriter, r *http.Request, email string, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "error", err)
	}

	if wantsJSON(r) || h.Renderer == nil {
		WriteAppError(w, err)
		return
	}
	h.renderHome(w, r, status, PageData{Email: email, Error: apperrors.UserMessage(err)})
}

func (h *AuthHandlers) signedIn(w http.ResponseWriter, r *http.Request, user *domainauth.Identity) {
	if wantsJSON(r) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"user":        toUserResponse(user),
			"redirect_to": DefaultSignedInPath,
		})
		return
	}
	http.Redirect(w, r, DefaultSignedInPath, http.StatusSeeOther)
}

func (h *AuthHandlers) renderHome(w http.ResponseWriter, r *http.Request, status int, data PageData) {
	if h.Renderer == nil {
		WriteJSON(w, status, map[string]any{"error": data.Error, "notice": data.Notice})
		return
	}
	data.Title = "Sign in"
	data.CSRFToken = GetCSRFToken(r)
	data.Identity = CurrentAuthState(r.Context()).Identity
	if err := h.Renderer.Render(w, status, "home", data); err != nil {
		h.logger().ErrorContext(r.Context(), "render home failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// awaitStore waits briefly for the provider's change notification to land so
// the page after the redirect sees the new state. The gateway never writes
// the store itself; on timeout the redirect proceeds anyway.
func (h *AuthHandlers) awaitStore(ctx context.Context, vis *service.Visitor, done func(domainauth.State) bool) {
	waitCtx, cancel := context.WithTimeout(ctx, h.settleTimeout())
	defer cancel()

	for st := range vis.Store.Watch(waitCtx) {
		if !st.Loading && done(st) {
			return
		}
	}
	h.logger().DebugContext(ctx, "auth state did not settle before redirect", "visitor", vis.Key)
}
