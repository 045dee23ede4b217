package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every docbench metric.
const Namespace = "docbench"

// Embedding kinds.
const (
	KindText  = "text"
	KindImage = "image"
)

var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embedding calls by provider, kind and status",
		},
		[]string{"provider", "kind", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Latency of successful embedding calls",
			// Page images go through a vision encoder and are slower than text.
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider", "kind"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "errors_total",
			Help:      "Failed embedding calls by cause",
		},
		[]string{"provider", "kind", "error_type"},
	)

	EmbeddingDimensions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "dimensions",
			Help:      "Vector length last returned by the provider",
		},
		[]string{"provider"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Embedding cache lookups",
		},
		[]string{"result"}, // hit / miss
	)
)

var registerEmbedding sync.Once

// RegisterEmbeddingMetrics registers the embedding collectors. Safe to call more than once.
func RegisterEmbeddingMetrics() {
	registerEmbedding.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal, EmbeddingRequestDuration, EmbeddingErrorsTotal,
			EmbeddingDimensions, EmbeddingCacheTotal,
		)
	})
}

// EmbeddingSucceeded records a successful call that started at start.
func EmbeddingSucceeded(provider, kind string, start time.Time, dims int) {
	EmbeddingRequestsTotal.WithLabelValues(provider, kind, "success").Inc()
	EmbeddingRequestDuration.WithLabelValues(provider, kind).Observe(time.Since(start).Seconds())
	EmbeddingDimensions.WithLabelValues(provider).Set(float64(dims))
}

// EmbeddingFailed records a failed call.
func EmbeddingFailed(provider, kind, errorType string) {
	EmbeddingRequestsTotal.WithLabelValues(provider, kind, "error").Inc()
	EmbeddingErrorsTotal.WithLabelValues(provider, kind, errorType).Inc()
}
