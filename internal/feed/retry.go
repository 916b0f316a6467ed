package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/telemetry"
)

// RetryConfig bounds the automatic retries of the initial fetch
type RetryConfig struct {
	// Attempts is the total number of requests, first one included.
	// Values below 1 are treated as 1.
	Attempts int

	// InitialInterval is the wait before the first retry
	InitialInterval time.Duration

	// MaxInterval caps the wait between retries
	MaxInterval time.Duration
}

// DefaultRetryConfig returns the retry policy used in production
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Retrying wraps a Fetcher with bounded exponential backoff.
type Retrying struct {
	next    domain.Fetcher
	config  RetryConfig
	metrics *telemetry.FeedMetrics
	logger  *slog.Logger
}

// NewRetrying creates a retrying fetcher around next
func NewRetrying(next domain.Fetcher, config RetryConfig, metrics *telemetry.FeedMetrics, logger *slog.Logger) *Retrying {
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = config.InitialInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Retrying{
		next:    next,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// Fetch calls the wrapped fetcher until it succeeds, fails permanently,
// runs out of attempts or ctx is cancelled.
func (r *Retrying) Fetch(ctx context.Context) (*domain.Feed, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.config.InitialInterval
	policy.MaxInterval = r.config.MaxInterval
	policy.MaxElapsedTime = 0

	var (
		result  *domain.Feed
		attempt int
	)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempt++
		r.metrics.ObserveAttempt()

		feed, err := r.next.Fetch(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			retry := Retryable(err)
			r.metrics.ObserveFailure(retry)
			if !retry {
				return backoff.Permanent(err)
			}
			return err
		}

		result = feed
		return nil
	}

	notify := func(err error, wait time.Duration) {
		r.metrics.ObserveRetry()
		r.logger.Warn("feed fetch failed, retrying",
			"attempt", attempt,
			"max_attempts", r.config.Attempts,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.config.Attempts-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}

	return result, nil
}

// Retryable reports whether a failed fetch is worth repeating. Transport
// errors, 5xx and 429 are retried; malformed documents and other statuses
// are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedFeed) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	return true
}
