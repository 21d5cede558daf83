// Package metrics exposes Prometheus collectors for the mediagate service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	rateLimitRejectionsTotal   prometheus.Counter
	extractorAttemptsTotal     *prometheus.CounterVec
	extractorBackoffSeconds    *prometheus.HistogramVec
	upstreamWaitSeconds        *prometheus.HistogramVec
	artifactBytesTotal         prometheus.Counter
	artifactOversizedTotal     prometheus.Counter
	fileServeTotal             *prometheus.CounterVec
	inflightExtractions        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 300},
			},
			[]string{"method", "route"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediagate_cache_lookups_total",
				Help: "Result cache lookups, labeled by kind and result (hit, miss).",
			},
			[]string{"kind", "result"},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediagate_rate_limit_rejections_total",
				Help: "Requests rejected by the per-client sliding window.",
			},
		)

		extractorAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediagate_extractor_attempts_total",
				Help: "Extractor invocations, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		extractorBackoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediagate_extractor_backoff_seconds",
				Help:    "Backoff sleeps between extractor attempts.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"op"},
		)

		upstreamWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediagate_upstream_wait_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		artifactBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediagate_artifact_bytes_total",
				Help: "Bytes of artifacts successfully downloaded.",
			},
		)

		artifactOversizedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediagate_artifact_oversized_total",
				Help: "Artifacts deleted for exceeding the size cap.",
			},
		)

		fileServeTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediagate_file_serve_total",
				Help: "File serve attempts, labeled by root and outcome.",
			},
			[]string{"root", "outcome"},
		)

		inflightExtractions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediagate_inflight_extractions",
				Help: "Extractions currently running (after de-duplication).",
			},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit or miss for kind.
func ObserveCacheLookup(kind string, hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveRateLimitRejection counts a request refused by the client limiter.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}

// ObserveExtractorAttempt counts one extractor call and its outcome.
func ObserveExtractorAttempt(op, outcome string) {
	Init()
	extractorAttemptsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveBackoff records a backoff sleep before retrying op.
func ObserveBackoff(op string, d time.Duration) {
	Init()
	extractorBackoffSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveUpstreamWait records the duration of a per-host politeness wait.
func ObserveUpstreamWait(host string, d time.Duration) {
	Init()
	upstreamWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveArtifact records a finished download of size bytes.
func ObserveArtifact(size int64) {
	Init()
	if size > 0 {
		artifactBytesTotal.Add(float64(size))
	}
}

// ObserveOversizedArtifact counts an artifact removed for exceeding the cap.
func ObserveOversizedArtifact() {
	Init()
	artifactOversizedTotal.Inc()
}

// ObserveFileServe counts a file serve attempt against root.
func ObserveFileServe(root, outcome string) {
	Init()
	fileServeTotal.WithLabelValues(root, outcome).Inc()
}

// IncInflight increments the in-flight extraction gauge.
func IncInflight() {
	Init()
	inflightExtractions.Inc()
}

// DecInflight decrements the in-flight extraction gauge.
func DecInflight() {
	Init()
	inflightExtractions.Dec()
}
