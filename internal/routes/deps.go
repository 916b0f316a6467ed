package routes

import (
	"net/http"

	"github.com/dukerupert/ipranges/internal/handler/ranges"
	"github.com/dukerupert/ipranges/internal/router"
)

// RangesDeps contains dependencies for the address range routes
type RangesDeps struct {
	PageHandler   *ranges.PageHandler
	TextHandler   *ranges.TextHandler
	APIHandler    *ranges.APIHandler
	RetryHandler  *ranges.RetryHandler
	LookupHandler *ranges.LookupHandler

	// RetryMiddleware guards POST /retry (CSRF, rate limit, body size)
	RetryMiddleware []router.Middleware

	// APIMiddleware wraps the JSON endpoint (CORS, timeout)
	APIMiddleware []router.Middleware
}

// OpsDeps contains dependencies for operational endpoints
type OpsDeps struct {
	HealthHandler  http.Handler
	MetricsHandler http.Handler
}
