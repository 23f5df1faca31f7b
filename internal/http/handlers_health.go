package httpx

import (
	"net/http"
)

// healthHandler returns 200 OK for readiness/liveness checks, with the number
// of live visitor auth contexts when a registry is wired.
func healthHandler(registry VisitorRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			return
		}
		body := map[string]any{"status": "ok"}
		if registry != nil {
			body["visitors"] = registry.Len()
		}
		WriteJSON(w, http.StatusOK, body)
	}
}
