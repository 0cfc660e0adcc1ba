// Package metrics exposes Prometheus collectors for the fetch-and-enrich pipeline.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorcrawl_fetches_total",
		Help: "HTTP fetch attempts, labeled by domain and result.",
	}, []string{"domain", "result"})

	fetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vectorcrawl_fetch_duration_seconds",
		Help:    "Duration of HTTP fetch attempts.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"domain"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorcrawl_retries_total",
		Help: "Retries scheduled by the frontier, labeled by failure kind.",
	}, []string{"kind"})

	permanentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorcrawl_permanent_failures_total",
		Help: "URLs that ended in a permanent failure, labeled by failure kind.",
	}, []string{"kind"})

	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vectorcrawl_rate_limit_wait_seconds",
		Help:    "Time spent waiting on the per-domain rate limiter.",
		Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"domain"})

	backendCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorcrawl_backend_calls_total",
		Help: "Inference backend call attempts, labeled by operation and result.",
	}, []string{"operation", "result"})

	backendCallDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vectorcrawl_backend_call_duration_seconds",
		Help:    "Duration of inference backend call attempts.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorcrawl_enrichment_fallbacks_total",
		Help: "Records written with degraded enrichment, labeled by field.",
	}, []string{"field"})

	chunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vectorcrawl_chunks_total",
		Help: "Chunks produced by the extractor.",
	})

	recordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vectorcrawl_records_written_total",
		Help: "Records accepted by the output sink.",
	})

	frontierKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vectorcrawl_frontier_keys",
		Help: "URL keys currently tracked by the frontier, labeled by state.",
	}, []string{"state"})
)

// ObserveFetch records one fetch attempt. result is "ok" or a failure kind.
func ObserveFetch(domain, result string, d time.Duration) {
	domain = label(domain)
	fetchesTotal.WithLabelValues(domain, result).Inc()
	fetchDurationSeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// IncRetry counts a scheduled retry
func IncRetry(kind string) {
	retriesTotal.WithLabelValues(kind).Inc()
}

// IncPermanentFailure counts a URL that will not be retried
func IncPermanentFailure(kind string) {
	permanentFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitWait records time spent in the politeness limiter
func ObserveRateLimitWait(domain string, d time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(label(domain)).Observe(d.Seconds())
}

// ObserveBackendCall records one backend call attempt
func ObserveBackendCall(operation, result string, d time.Duration) {
	backendCallsTotal.WithLabelValues(operation, result).Inc()
	backendCallDurationSeconds.WithLabelValues(operation).Observe(d.Seconds())
}

// IncFallback counts a degraded record field ("summary" or "embedding")
func IncFallback(field string) {
	fallbacksTotal.WithLabelValues(field).Inc()
}

// AddChunks counts extracted chunks
func AddChunks(n int) {
	chunksTotal.Add(float64(n))
}

// AddRecords counts records accepted by the sink
func AddRecords(n int) {
	recordsTotal.Add(float64(n))
}

// SetFrontier publishes the frontier's set sizes
func SetFrontier(pending, inFlight, done int) {
	frontierKeys.WithLabelValues("pending").Set(float64(pending))
	frontierKeys.WithLabelValues("in_flight").Set(float64(inFlight))
	frontierKeys.WithLabelValues("done").Set(float64(done))
}

func label(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return "unknown"
	}
	return domain
}
