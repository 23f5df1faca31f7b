package httpx

import (
	"log/slog"
	"net/http"
)

// DefaultEventsPath is the dashboard's guard event stream.
const DefaultEventsPath = "/dashboard/events"

// PageHandlers renders the public home page and the protected dashboard.
type PageHandlers struct {
	Renderer *TemplateRenderer
	Logger   *slog.Logger
}

func (h *PageHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Home handles GET /. It shows the sign-in form, or a link to the dashboard
// once signed in.
func (h *PageHandlers) Home(w http.ResponseWriter, r *http.Request) {
	st := CurrentAuthState(r.Context())
	h.render(w, r, "home", PageData{Title: "Welcome", Identity: st.Identity})
}

// Dashboard handles GET /dashboard. RequireSession admits only signed-in visitors.
func (h *PageHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	st, ok := GetAuthStateFromContext(r.Context())
	if !ok || st.Identity == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.render(w, r, "dashboard", PageData{Title: "Dashboard", Identity: st.Identity, EventsURL: DefaultEventsPath})
}

func (h *PageHandlers) render(w http.ResponseWriter, r *http.Request, name string, data PageData) {
	data.CSRFToken = GetCSRFToken(r)
	if err := h.Renderer.Render(w, http.StatusOK, name, data); err != nil {
		h.logger().ErrorContext(r.Context(), "render page failed", "template", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
