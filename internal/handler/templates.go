package handler

import (
	"html/template"
	"net/url"
	"time"

	"github.com/dukerupert/ipranges/internal/domain"
)

// TemplateFuncs returns a FuncMap with custom template functions
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"year": func() int {
			return time.Now().Year()
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format("2006-01-02 15:04:05 MST")
		},
		"withQuery": WithQuery,
	}
}

// CriteriaFromQuery reads the filter fields from URL query parameters.
// Unknown values are kept; they simply match nothing.
func CriteriaFromQuery(q url.Values) domain.Filter {
	var f domain.Filter
	for _, field := range domain.Fields {
		f = f.With(field, q.Get(string(field)))
	}
	return f
}

// CriteriaQuery encodes the constrained fields of f as a query string
// without the leading "?".
func CriteriaQuery(f domain.Filter) string {
	if f.IsEmpty() {
		return ""
	}
	q := url.Values{}
	for _, field := range domain.Fields {
		if v := f.Value(field); v != "" {
			q.Set(string(field), v)
		}
	}
	return q.Encode()
}

// WithQuery appends the constrained fields of f to path. The result is
// typed as a URL so html/template does not re-escape the query separators.
func WithQuery(path string, f domain.Filter) template.URL {
	if q := CriteriaQuery(f); q != "" {
		path += "?" + q
	}
	return template.URL(path)
}
