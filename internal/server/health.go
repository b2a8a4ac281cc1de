package server

import "net/http"

// HealthHandler serves the liveness endpoint.
// Implements the [Handler] interface for registration with a [Router].
type HealthHandler struct{}

// Routes returns the HTTP routes this handler serves.
func (h *HealthHandler) Routes() []string {
	return []string{"/health"}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
