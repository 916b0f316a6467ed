package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FeedMetrics holds Prometheus metrics for the address range feed loader.
// All methods are safe to call on a nil *FeedMetrics.
type FeedMetrics struct {
	FetchAttempts  prometheus.Counter
	FetchFailures  *prometheus.CounterVec
	Loads          *prometheus.CounterVec
	LoadDuration   prometheus.Histogram
	RecordsLoaded  prometheus.Gauge
	RecordsSkipped prometheus.Gauge
	Discarded      prometheus.Counter
	Retries        prometheus.Counter
}

// NewFeedMetrics creates feed metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewFeedMetrics(namespace string, reg prometheus.Registerer) *FeedMetrics {
	if namespace == "" {
		namespace = "ipranges"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	subsystem := "feed"

	return &FeedMetrics{
		FetchAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_attempts_total",
			Help:      "Total HTTP requests made to the feed",
		}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_failures_total",
			Help:      "Total failed feed requests",
		}, []string{"retryable"}),
		Loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "loads_total",
			Help:      "Total view loads by outcome",
		}, []string{"outcome"}), // outcome: ready, failed
		LoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "load_duration_seconds",
			Help:      "Time from activation to a settled load, retries included",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		RecordsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_loaded",
			Help:      "Number of prefixes in the current view",
		}),
		RecordsSkipped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_skipped",
			Help:      "Number of malformed prefixes dropped from the current feed",
		}),
		Discarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "discarded_results_total",
			Help:      "Fetch results dropped because the view was torn down",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Total automatic retries after a failed fetch",
		}),
	}
}

// ObserveAttempt counts one outbound feed request.
func (m *FeedMetrics) ObserveAttempt() {
	if m == nil {
		return
	}
	m.FetchAttempts.Inc()
}

// ObserveFailure counts a failed feed request.
func (m *FeedMetrics) ObserveFailure(retryable bool) {
	if m == nil {
		return
	}
	label := "false"
	if retryable {
		label = "true"
	}
	m.FetchFailures.WithLabelValues(label).Inc()
}

// ObserveRetry counts an automatic retry.
func (m *FeedMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// ObserveReady records a successful load.
func (m *FeedMetrics) ObserveReady(started time.Time, loaded, skipped int) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues("ready").Inc()
	m.LoadDuration.Observe(time.Since(started).Seconds())
	m.RecordsLoaded.Set(float64(loaded))
	m.RecordsSkipped.Set(float64(skipped))
}

// ObserveFailed records a load that ended in the failed state.
func (m *FeedMetrics) ObserveFailed(started time.Time) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues("failed").Inc()
	m.LoadDuration.Observe(time.Since(started).Seconds())
}

// ObserveDiscarded counts a fetch result that was never applied.
func (m *FeedMetrics) ObserveDiscarded() {
	if m == nil {
		return
	}
	m.Discarded.Inc()
}
