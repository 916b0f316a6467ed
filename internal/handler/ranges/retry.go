package ranges

import (
	"net/http"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/handler"
	"github.com/dukerupert/ipranges/internal/middleware"
)

// RetryHandler restarts a failed feed load
type RetryHandler struct {
	source Source
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(source Source) *RetryHandler {
	return &RetryHandler{source: source}
}

// ServeHTTP handles POST /retry. Browsers are sent back to the page with
// their filter intact; JSON clients get 202 or the conflict.
func (h *RetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.source.Retry()
	wantsJSON := r.Header.Get("Accept") == "application/json"

	switch {
	case err == nil:
		middleware.GetLogger(r.Context()).Info("manual feed retry requested")
	case domain.IsCode(err, domain.ECONFLICT) && !wantsJSON:
		// Already loading or loaded, e.g. a double submit. The page shows which.
	default:
		handler.ErrorResponse(w, r, err)
		return
	}

	if wantsJSON {
		handler.WriteJSON(w, http.StatusAccepted, map[string]string{"status": h.source.Status().State.String()})
		return
	}

	criteria := handler.CriteriaFromQuery(r.URL.Query())
	http.Redirect(w, r, string(handler.WithQuery("/", criteria)), http.StatusSeeOther)
}
