package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
)

// PageData is the view model shared by all page templates.
type PageData struct {
	Title     string
	CSRFToken string
	Identity  *domainauth.Identity
	// Form state for the sign-in/sign-up page.
	Email  string
	Error  string
	Notice string
	// Loading page.
	Loading    bool
	RefreshURL string
	// Dashboard.
	EventsURL string
}

// DisplayName prefers the provider's full_name metadata, then the email, then
// the provider user ID (some OIDC providers omit email).
func (p PageData) DisplayName() string {
	if p.Identity == nil {
		return ""
	}
	if name, ok := p.Identity.Metadata["full_name"].(string); ok && name != "" {
		return name
	}
	if p.Identity.HasEmail() {
		return p.Identity.Email
	}
	return p.Identity.ID
}

// TemplateRenderer renders HTML pages.
type TemplateRenderer struct {
	t      *template.Template
	logger *slog.Logger
}

// TemplateRendererConfig holds configuration for creating a TemplateRenderer.
type TemplateRendererConfig struct {
	TemplateFS fs.FS        // Filesystem containing layout.tmpl and pages/*.tmpl (required)
	Logger     *slog.Logger // Logger for template errors (optional)
}

// NewTemplateRenderer parses the layout and page templates.
func NewTemplateRenderer(cfg TemplateRendererConfig) (*TemplateRenderer, error) {
	if cfg.TemplateFS == nil {
		return nil, errors.New("TemplateFS is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t, err := template.New("root").ParseFS(cfg.TemplateFS, "layout.tmpl", "pages/*.tmpl")
	if err != nil {
		logger.Error("template parsing failed",
			slog.Any("error", err),
			slog.String("phase", "initialization"),
		)
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &TemplateRenderer{t: t, logger: logger}, nil
}

// Render executes the named page into a buffer and writes it with status.
// Nothing is written when execution fails.
func (r *TemplateRenderer) Render(w http.ResponseWriter, status int, name string, data PageData) error {
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, name, data); err != nil {
		r.logger.Error("template execution failed",
			slog.String("template", name),
			slog.Any("error", err),
		)
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		r.logger.Error("failed to write rendered template",
			slog.String("template", name),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
