// Package metrics exposes Prometheus collectors for the indexer.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Sitemap fetch outcomes.
const (
	SitemapOK         = "ok"
	SitemapFetchError = "fetch_error"
	SitemapParseError = "parse_error"
	SitemapTooDeep    = "too_deep"
)

var (
	sitemapsTotal              *prometheus.CounterVec
	urlsDiscoveredTotal        prometheus.Counter
	submissionsTotal           *prometheus.CounterVec
	quotaRemaining             *prometheus.GaugeVec
	batchDurationSeconds       *prometheus.HistogramVec
	pacingDelaySeconds         *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sitemapsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_sitemaps_total",
				Help: "Total number of sitemap documents processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		urlsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_urls_discovered_total",
				Help: "Total number of new URLs appended to the discovered ledger.",
			},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_submissions_total",
				Help: "Total number of URLs submitted, labeled by credential and outcome.",
			},
			[]string{"credential", "outcome"},
		)

		quotaRemaining = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_quota_remaining",
				Help: "Remaining daily submissions per credential.",
			},
			[]string{"credential"},
		)

		batchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_batch_duration_seconds",
				Help:    "Histogram of batch request latencies, labeled by credential.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"credential"},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_pacing_delay_seconds",
				Help:    "Histogram of pacing wait durations, labeled by credential.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"credential"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_runs_total",
				Help: "Total number of pipeline runs, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// Push sends the default registry to a Prometheus Pushgateway under job.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// ObserveSitemap counts one processed sitemap document.
func ObserveSitemap(outcome string) {
	Init()
	sitemapsTotal.WithLabelValues(outcome).Inc()
}

// AddDiscovered counts newly discovered URLs.
func AddDiscovered(n int) {
	Init()
	if n > 0 {
		urlsDiscoveredTotal.Add(float64(n))
	}
}

// ObserveSubmissions counts URLs submitted by a credential with the given outcome.
func ObserveSubmissions(credential, outcome string, n int) {
	Init()
	if n > 0 {
		submissionsTotal.WithLabelValues(credential, outcome).Add(float64(n))
	}
}

// SetQuotaRemaining records a credential's remaining daily quota.
func SetQuotaRemaining(credential string, remaining int) {
	Init()
	quotaRemaining.WithLabelValues(credential).Set(float64(remaining))
}

// ObserveBatch records the latency of one batch request.
func ObserveBatch(credential string, duration time.Duration) {
	Init()
	batchDurationSeconds.WithLabelValues(credential).Observe(duration.Seconds())
}

// ObservePacingDelay records the duration of a pacing wait.
func ObservePacingDelay(credential string, duration time.Duration) {
	Init()
	pacingDelaySeconds.WithLabelValues(credential).Observe(duration.Seconds())
}

// ObserveRun counts a finished pipeline run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
