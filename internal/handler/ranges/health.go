package ranges

import (
	"net/http"

	"github.com/dukerupert/ipranges/internal/handler"
)

// HealthHandler reports process liveness and the feed state
type HealthHandler struct {
	source Source
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(source Source) *HealthHandler {
	return &HealthHandler{source: source}
}

// ServeHTTP handles GET /health. The process is healthy even while the feed
// is loading or failed; the feed state is informational.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.source.Status()

	body := map[string]string{
		"status": "ok",
		"feed":   status.State.String(),
	}
	handler.WriteJSON(w, http.StatusOK, body)
}
