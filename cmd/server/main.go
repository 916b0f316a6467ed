package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/ipranges/internal"
	"github.com/dukerupert/ipranges/internal/feed"
	"github.com/dukerupert/ipranges/internal/handler"
	"github.com/dukerupert/ipranges/internal/handler/ranges"
	"github.com/dukerupert/ipranges/internal/middleware"
	"github.com/dukerupert/ipranges/internal/router"
	"github.com/dukerupert/ipranges/internal/routes"
	"github.com/dukerupert/ipranges/internal/telemetry"
	"github.com/dukerupert/ipranges/internal/view"
	"github.com/dukerupert/ipranges/web"
)

const shutdownTimeout = 10 * time.Second

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Prometheus registry shared by HTTP and feed metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	feedMetrics := telemetry.NewFeedMetrics("ipranges", reg)
	metrics := middleware.NewMetrics("ipranges", reg)

	// Feed client with bounded retries
	client := feed.NewClient(feed.Config{
		URL:       cfg.Feed.URL,
		Timeout:   cfg.Feed.Timeout,
		Transport: &telemetry.HTTPTransport{},
	}, logger)
	fetcher := feed.NewRetrying(client, feed.RetryConfig{
		Attempts:        cfg.Feed.RetryAttempts,
		InitialInterval: cfg.Feed.RetryInitial,
		MaxInterval:     cfg.Feed.RetryMax,
	}, feedMetrics, logger)

	v := view.New(fetcher, view.Options{
		Logger:  logger,
		Metrics: feedMetrics,
	})

	// Load templates with renderer
	logger.Info("Loading templates...")
	renderer, err := handler.NewRenderer(web.Templates())
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	secure := strings.HasPrefix(cfg.BaseURL, "https://")

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.HSTSMaxAge = 0
	}

	retryLimiter := middleware.NewRateLimiter(middleware.StrictRateLimiterConfig())
	defer retryLimiter.Stop()
	apiLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer apiLimiter.Stop()

	r := router.New(
		router.Recovery(logger),
		telemetry.SentryMiddleware(),
		middleware.RequestID,
		middleware.WithClientIP(),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		middleware.CSRF(middleware.DefaultCSRFConfig(secure)),
	)

	routes.RegisterRangesRoutes(r, routes.RangesDeps{
		PageHandler:   ranges.NewPageHandler(v, renderer),
		TextHandler:   ranges.NewTextHandler(v),
		APIHandler:    ranges.NewAPIHandler(v),
		RetryHandler:  ranges.NewRetryHandler(v),
		LookupHandler: ranges.NewLookupHandler(v, renderer),
		RetryMiddleware: []router.Middleware{
			retryLimiter.Middleware,
			middleware.MaxBodySize(middleware.FormMaxBodySize),
		},
		APIMiddleware: []router.Middleware{
			router.CORS([]string{"*"}),
			apiLimiter.Middleware,
			middleware.Timeout(middleware.ShortTimeout),
		},
	})
	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		HealthHandler:  ranges.NewHealthHandler(v),
		MetricsHandler: metrics.Handler(),
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      middleware.DefaultTimeout,
	}

	if err := v.Activate(ctx); err != nil {
		return fmt.Errorf("failed to start feed load: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "address", srv.Addr, "feed", client.URL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		v.Teardown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
