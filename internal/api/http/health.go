package apihttp

import (
	"net/http"
	"time"
)

// HealthHandler answers liveness probes.
type HealthHandler struct {
	version string
	now     func() time.Time
}

// NewHealthHandler constructs a health handler reporting version.
func NewHealthHandler(version string) *HealthHandler {
	if version == "" {
		version = "dev"
	}
	return &HealthHandler{version: version, now: time.Now}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ServeHTTP reports the gateway as alive.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
		return
	}
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Version:   h.version,
	})
}
