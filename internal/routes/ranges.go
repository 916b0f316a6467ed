package routes

import (
	"net/http"

	"github.com/dukerupert/ipranges/internal/router"
)

// RegisterRangesRoutes registers the page and its companions.
func RegisterRangesRoutes(r *router.Router, deps RangesDeps) {
	// "/{$}" matches only the root, so unknown paths fall through to 404.
	r.Get("/{$}", deps.PageHandler.ServeHTTP)
	r.Get("/prefixes.txt", deps.TextHandler.ServeHTTP)
	r.Get("/lookup", deps.LookupHandler.ServeHTTP)

	r.Post("/retry", deps.RetryHandler.ServeHTTP, deps.RetryMiddleware...)

	api := r.Group(deps.APIMiddleware...)
	api.Get("/api/prefixes", deps.APIHandler.ServeHTTP)
	api.Handle(http.MethodOptions, "/api/prefixes", deps.APIHandler)
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Handle(http.MethodGet, "/health", deps.HealthHandler)
	r.Handle(http.MethodGet, "/metrics", deps.MetricsHandler)
}
