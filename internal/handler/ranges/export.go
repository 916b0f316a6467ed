package ranges

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/filter"
	"github.com/dukerupert/ipranges/internal/handler"
	"github.com/dukerupert/ipranges/internal/view"
)

// TextHandler serves the clipboard payload as plain text
type TextHandler struct {
	source Source
}

// NewTextHandler creates a new text export handler
func NewTextHandler(source Source) *TextHandler {
	return &TextHandler{source: source}
}

// ServeHTTP handles GET /prefixes.txt
func (h *TextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot(handler.CriteriaFromQuery(r.URL.Query()))
	if err := readyOrError(w, "ranges.text", snap.Status); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, filter.ClipboardText(snap.Filtered))
}

// APIHandler serves the view as JSON
type APIHandler struct {
	source Source
}

// NewAPIHandler creates a new JSON handler
func NewAPIHandler(source Source) *APIHandler {
	return &APIHandler{source: source}
}

// APIResponse is the body of GET /api/prefixes
type APIResponse struct {
	Status     string                 `json:"status"`
	Criteria   domain.Filter          `json:"criteria"`
	Available  domain.AvailableValues `json:"available"`
	Prefixes   []domain.Prefix        `json:"prefixes"`
	Count      int                    `json:"count"`
	Total      int                    `json:"total"`
	SyncToken  string                 `json:"sync_token,omitempty"`
	CreateDate *time.Time             `json:"create_date,omitempty"`
	LoadedAt   time.Time              `json:"loaded_at"`
	Skipped    int                    `json:"skipped"`
}

// ServeHTTP handles GET /api/prefixes
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	criteria := handler.CriteriaFromQuery(r.URL.Query())
	snap := h.source.Snapshot(criteria)
	if err := readyOrError(w, "ranges.api", snap.Status); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	resp := APIResponse{
		Status:    snap.Status.State.String(),
		Criteria:  criteria,
		Available: snap.Available,
		Prefixes:  snap.Filtered,
		Count:     len(snap.Filtered),
		Total:     snap.Total,
		SyncToken: snap.Meta.SyncToken,
		LoadedAt:  snap.Meta.LoadedAt,
		Skipped:   snap.Meta.Skipped,
	}
	if !snap.Meta.CreateDate.IsZero() {
		created := snap.Meta.CreateDate
		resp.CreateDate = &created
	}

	handler.WriteJSON(w, http.StatusOK, resp)
}

// readyOrError returns the EUNAVAILABLE error for a view that cannot serve
// data yet. A pending view also advertises when to come back.
func readyOrError(w http.ResponseWriter, op string, status view.Status) error {
	switch status.State {
	case view.StateReady:
		return nil
	case view.StateFailed:
		if status.Err == nil {
			return domain.Unavailable(op, "The address range feed failed to load.")
		}
		return domain.WrapError(status.Err, domain.EUNAVAILABLE, op, domain.ErrorMessage(status.Err))
	default:
		w.Header().Set("Retry-After", strconv.Itoa(refreshSeconds))
		return domain.Unavailable(op, "The address range feed is still loading.")
	}
}
