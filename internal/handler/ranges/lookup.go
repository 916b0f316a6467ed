package ranges

import (
	"net/http"
	"strings"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/handler"
	"github.com/dukerupert/ipranges/internal/lookup"
	"github.com/dukerupert/ipranges/internal/middleware"
	"github.com/dukerupert/ipranges/internal/view"
)

// LookupHandler finds the published ranges containing an address
type LookupHandler struct {
	source   Source
	renderer *handler.Renderer
}

// NewLookupHandler creates a new lookup handler
func NewLookupHandler(source Source, renderer *handler.Renderer) *LookupHandler {
	return &LookupHandler{
		source:   source,
		renderer: renderer,
	}
}

// LookupPageData contains data for the lookup template
type LookupPageData struct {
	Refresh      int
	IP           string
	Loading      bool
	ErrorMessage string
	Matches      []domain.Prefix
}

// ServeHTTP handles GET /lookup. Without an ip parameter the caller's own
// address is used.
func (h *LookupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ip"))
	if raw == "" {
		raw = middleware.GetClientIPFromContext(r.Context())
		if raw == "" {
			raw = middleware.GetClientIP(r)
		}
	}

	data := LookupPageData{IP: raw}
	status := http.StatusOK

	ip, err := lookup.ParseIP(raw)
	switch {
	case err != nil:
		status = handler.ErrorCodeToHTTPStatus(domain.ErrorCode(err))
		data.ErrorMessage = domain.ErrorMessage(err)
	default:
		data.IP = ip.String()
		data.Matches, err = h.source.Lookup(ip)
		if err != nil {
			status = handler.ErrorCodeToHTTPStatus(domain.ErrorCode(err))
			if h.source.Status().State == view.StatePending {
				data.Loading = true
				data.Refresh = refreshSeconds
			} else {
				data.ErrorMessage = domain.ErrorMessage(err)
			}
		}
	}

	if err != nil {
		middleware.GetLogger(r.Context()).Info("lookup failed", "ip", raw, "error", err)
	}

	h.renderer.RenderHTTP(w, r, status, "lookup", data)
}
