package generate

import (
	"context"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// GeneratorPool hands out generator clients round-robin.
type GeneratorPool interface {
	Get() domain.QueryGenerator
}

// Limiter admits one call at a time under the configured rate.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Retrier runs an operation with backoff.
type Retrier interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// Sink persists page results, one record per call.
type Sink interface {
	Write(record any) error
}

// Meter observes successful generation calls.
type Meter interface {
	RecordSuccess()
}
