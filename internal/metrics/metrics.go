// Package metrics exposes Prometheus collectors for the crawl and sync pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchEscalationsTotal      *prometheus.CounterVec
	throttleDelaySeconds       *prometheus.HistogramVec
	listingPagesTotal          *prometheus.CounterVec
	listingItemsTotal          *prometheus.CounterVec
	parsedItemsTotal           *prometheus.CounterVec
	sessionsTotal              *prometheus.CounterVec
	activeCrawls               prometheus.Gauge
	publishAttemptsTotal       *prometheus.CounterVec
	syncRecordsTotal           *prometheus.CounterVec
	syncBatchesTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by distributor, strategy and outcome.",
			},
			[]string{"distributor", "strategy", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metalcrawler_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"distributor", "strategy"},
		)

		fetchEscalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_fetch_escalations_total",
				Help: "Escalations to a heavier fetch strategy after a block signal.",
			},
			[]string{"distributor", "strategy"},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metalcrawler_throttle_delay_seconds",
				Help:    "Histogram of per-crawl throttle waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"distributor"},
		)

		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_listing_pages_total",
				Help: "Listing pages walked, labeled by distributor.",
			},
			[]string{"distributor"},
		)

		listingItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_listing_items_total",
				Help: "Listing items discovered, labeled by distributor.",
			},
			[]string{"distributor"},
		)

		parsedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_parsed_items_total",
				Help: "Detail pages handled, labeled by distributor and outcome.",
			},
			[]string{"distributor", "outcome"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_sessions_total",
				Help: "Parsing session transitions, labeled by distributor and status.",
			},
			[]string{"distributor", "status"},
		)

		activeCrawls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "metalcrawler_active_crawls",
				Help: "Number of crawls currently running.",
			},
		)

		publishAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_publish_attempts_total",
				Help: "Event publish attempts, labeled by topic and outcome.",
			},
			[]string{"topic", "outcome"},
		)

		syncRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_sync_records_total",
				Help: "Catalog sync record outcomes, labeled by distributor and outcome.",
			},
			[]string{"distributor", "outcome"},
		)

		syncBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalcrawler_sync_batches_total",
				Help: "Catalog sync batches, labeled by distributor and outcome.",
			},
			[]string{"distributor", "outcome"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(distributor, strategy, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(distributor, strategy, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(distributor, strategy).Observe(duration.Seconds())
}

// ObserveEscalation records a switch to a heavier fetch strategy.
func ObserveEscalation(distributor, strategy string) {
	Init()
	fetchEscalationsTotal.WithLabelValues(distributor, strategy).Inc()
}

// ObserveThrottleDelay records the time spent waiting on the crawl throttle.
func ObserveThrottleDelay(distributor string, duration time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(distributor).Observe(duration.Seconds())
}

// ObserveListingPage records a walked listing page and its item count.
func ObserveListingPage(distributor string, items int) {
	Init()
	listingPagesTotal.WithLabelValues(distributor).Inc()
	listingItemsTotal.WithLabelValues(distributor).Add(float64(items))
}

// ObserveParsedItem records a detail page outcome (parsed or skipped).
func ObserveParsedItem(distributor, outcome string) {
	Init()
	parsedItemsTotal.WithLabelValues(distributor, outcome).Inc()
}

// ObserveSession records a session status transition.
func ObserveSession(distributor, status string) {
	Init()
	sessionsTotal.WithLabelValues(distributor, status).Inc()
}

// IncActiveCrawls increments the running crawl gauge.
func IncActiveCrawls() {
	Init()
	activeCrawls.Inc()
}

// DecActiveCrawls decrements the running crawl gauge.
func DecActiveCrawls() {
	Init()
	activeCrawls.Dec()
}

// ObservePublish records an event publish attempt.
func ObservePublish(topic, outcome string) {
	Init()
	publishAttemptsTotal.WithLabelValues(topic, outcome).Inc()
}

// ObserveSyncRecord records what the catalog sync did with one record.
func ObserveSyncRecord(distributor, outcome string) {
	Init()
	syncRecordsTotal.WithLabelValues(distributor, outcome).Inc()
}

// ObserveSyncBatch records a whole sync batch outcome (acked or nacked).
func ObserveSyncBatch(distributor, outcome string) {
	Init()
	syncBatchesTotal.WithLabelValues(distributor, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
