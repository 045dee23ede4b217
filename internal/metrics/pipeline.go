package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Generation, rate limiting and rerank metrics.
var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "generation_requests_total",
			Help:      "Generative calls by purpose and status",
		},
		[]string{"purpose", "model", "status"}, // purpose: queries / rerank
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "generation_request_duration_seconds",
			Help:      "Generative call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"purpose", "model"},
	)

	GenerationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "generation_tokens_total",
			Help:      "Tokens consumed by generative calls",
		},
		[]string{"purpose", "model", "type"},
	)

	GenerationBudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "generation_budget_tokens_remaining",
			Help:      "Remaining token budget",
		},
		[]string{"provider", "period"},
	)

	GenerationBudgetTokensByStage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "budget_tokens_total",
			Help:      "Tokens charged to a provider budget, by pipeline stage",
		},
		[]string{"provider", "stage"},
	)

	RateLimitWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for a rate limiter token",
			Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	ActualRPS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "generation_actual_rps",
			Help:      "Successful generation calls per second over the last 30 seconds",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retry_attempts_total",
			Help:      "Failed attempts by outcome",
		},
		[]string{"outcome"}, // retried / exhausted / permanent
	)

	PagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_total",
			Help:      "Page results written to the corpus",
		},
		[]string{"status"}, // ok / error
	)

	DocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "documents_total",
			Help:      "Documents processed by outcome",
		},
		[]string{"status"},
	)

	QueriesEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queries_evaluated_total",
			Help:      "Evaluated queries by outcome",
		},
		[]string{"status"},
	)

	QueriesRerankedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queries_reranked_total",
			Help:      "Reranked queries by outcome",
		},
		[]string{"status"}, // ok / skipped
	)
)

var registerPipeline sync.Once

// RegisterPipelineMetrics registers generation, limiter and stage metrics.
func RegisterPipelineMetrics() {
	registerPipeline.Do(func() {
		prometheus.MustRegister(
			GenerationRequestsTotal, GenerationRequestDuration, GenerationTokensTotal,
			GenerationBudgetTokensRemaining, GenerationBudgetTokensByStage,
			RateLimitWaitSeconds, ActualRPS, RetryAttemptsTotal,
			PagesTotal, DocumentsTotal, QueriesEvaluatedTotal, QueriesRerankedTotal,
		)
	})
}
