package ranges

import (
	"net/http"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/filter"
	"github.com/dukerupert/ipranges/internal/handler"
	"github.com/dukerupert/ipranges/internal/middleware"
	"github.com/dukerupert/ipranges/internal/view"
)

// PageHandler renders the filterable range list
type PageHandler struct {
	source   Source
	renderer *handler.Renderer
}

// NewPageHandler creates a new page handler
func NewPageHandler(source Source, renderer *handler.Renderer) *PageHandler {
	return &PageHandler{
		source:   source,
		renderer: renderer,
	}
}

// PageData contains data for the home page template
type PageData struct {
	CSRFToken string
	Refresh   int

	State        string
	Loading      bool
	Failed       bool
	Ready        bool
	ErrorMessage string

	Criteria  domain.Filter
	Selectors []Selector

	Prefixes []domain.Prefix
	Count    int
	Total    int
	CopyText string
	Meta     view.Meta
}

// Selector is one single-choice filter control
type Selector struct {
	Name    string
	Options []Option
}

// Option is one selectable value
type Option struct {
	Value    string
	Selected bool
}

// ServeHTTP handles GET /
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	criteria := handler.CriteriaFromQuery(r.URL.Query())
	snap := h.source.Snapshot(criteria)

	data := PageData{
		CSRFToken: middleware.GetCSRFToken(r.Context()),
		State:     snap.Status.State.String(),
		Criteria:  criteria,
		Selectors: buildSelectors(snap.Available, criteria),
	}

	status := http.StatusOK
	switch snap.Status.State {
	case view.StateReady:
		data.Ready = true
		data.Prefixes = snap.Filtered
		data.Count = len(snap.Filtered)
		data.Total = snap.Total
		data.CopyText = filter.ClipboardText(snap.Filtered)
		data.Meta = snap.Meta
	case view.StateFailed:
		data.Failed = true
		data.ErrorMessage = domain.ErrorMessage(snap.Status.Err)
		status = http.StatusServiceUnavailable
	default:
		data.Loading = true
		data.Refresh = refreshSeconds
	}

	h.renderer.RenderHTTP(w, r, status, "home", data)
}

// buildSelectors lays out one selector per field in display order. A
// selected value missing from the options is still shown so the control
// reflects the request.
func buildSelectors(available domain.AvailableValues, criteria domain.Filter) []Selector {
	selectors := make([]Selector, 0, len(domain.Fields))
	for _, f := range domain.Fields {
		current := criteria.Value(f)
		values := available[f]

		options := make([]Option, 0, len(values)+1)
		found := false
		for _, v := range values {
			selected := v == current
			found = found || selected
			options = append(options, Option{Value: v, Selected: selected})
		}
		if current != "" && !found {
			options = append(options, Option{Value: current, Selected: true})
		}

		selectors = append(selectors, Selector{Name: string(f), Options: options})
	}
	return selectors
}
