// Package portfolio provides embedded assets for production builds.
package portfolio

import "embed"

// TemplateFS holds the page templates. In dev mode (IsDev=true) they are
// read from disk instead so edits show up without a rebuild.
//
//go:embed all:frontend/templates
var TemplateFS embed.FS
