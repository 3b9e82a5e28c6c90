package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "gateway_"

	resultSuccess  = "success"
	resultError    = "error"
	resultRejected = "rejected"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestReadings *prometheus.CounterVec

	tokenIssues  *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
)

// Init registers gateway metrics with the default registry. Calls made before
// Init are no-ops.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by route and result",
			},
			[]string{"route", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "result"},
		)
		ingestReadings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_readings_total",
				Help: "Total readings processed by result",
			},
			[]string{"result"},
		)

		tokenIssues = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "auth_token_requests_total",
				Help: "Total token requests by result",
			},
			[]string{"result"},
		)
		rateLimited = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_limited_total",
				Help: "Total requests rejected by the rate limiter by class",
			},
			[]string{"class"},
		)
		storeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "store_write_latency_seconds",
				Help:    "Store write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestReadings,
			tokenIssues,
			rateLimited,
			storeLatency,
		)
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(route, result string, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(route, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(route, result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// AddReadings counts processed readings by result.
func AddReadings(result string, count int) {
	if count <= 0 {
		return
	}
	if ingestReadings != nil {
		ingestReadings.WithLabelValues(result).Add(float64(count))
	}
}

// IncTokenIssue increments token request counter.
func IncTokenIssue(result string) {
	if result == "" {
		result = "unknown"
	}
	if tokenIssues != nil {
		tokenIssues.WithLabelValues(result).Inc()
	}
}

// IncRateLimited increments the rejection counter for a limiter class.
func IncRateLimited(class string) {
	if class == "" {
		class = "unknown"
	}
	if rateLimited != nil {
		rateLimited.WithLabelValues(class).Inc()
	}
}

// ObserveStoreWrite records one store write.
func ObserveStoreWrite(backend, result string, duration time.Duration) {
	if backend == "" {
		backend = "unknown"
	}
	if storeLatency != nil {
		storeLatency.WithLabelValues(backend, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultRejected = resultRejected
)
