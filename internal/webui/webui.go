// Package webui serves the developer debug pages.
package webui

import (
	"net/http"

	"transitsync.dev/internal/app"
)

type WebUI struct {
	*app.Application
}

// SetWebUIRoutes registers the debug page. The handler itself refuses to
// serve in production.
func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug", webUI.debugIndexHandler)
}
