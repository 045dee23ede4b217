package budget

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// Checker is the local interface for budget enforcement.
type Checker interface {
	Check(ctx context.Context) error
	Record(ctx context.Context, tokens int64)
}

// InstrumentedGenerator wraps a QueryGenerator with budget enforcement and logging.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai.
type InstrumentedGenerator struct {
	inner  domain.QueryGenerator
	model  string
	budget Checker
	logger *zap.Logger
}

// NewInstrumentedGenerator wraps a generator. budget may be nil.
func NewInstrumentedGenerator(
	inner domain.QueryGenerator, model string, budget Checker, logger *zap.Logger,
) *InstrumentedGenerator {
	return &InstrumentedGenerator{inner: inner, model: model, budget: budget, logger: logger}
}

// Generate checks budget, delegates to the inner generator, and records usage.
func (g *InstrumentedGenerator) Generate(
	ctx context.Context, req domain.GenerateRequest,
) (domain.QueryBundle, domain.Usage, error) {
	if err := check(ctx, g.budget); err != nil {
		g.logger.Error("Budget exceeded", zap.String("model", g.model), zap.Error(err))
		return domain.QueryBundle{}, domain.Usage{}, err
	}

	start := time.Now()
	bundle, usage, err := g.inner.Generate(ctx, req)
	duration := time.Since(start)

	// Failed calls still consume tokens when the provider answered.
	record(ctx, g.budget, usage)

	if err != nil {
		g.logger.Warn("Query generation failed",
			zap.String("model", g.model),
			zap.String("language", string(req.Language)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.QueryBundle{}, usage, fmt.Errorf("generate: %w", err)
	}

	g.logger.Debug("Query generation completed",
		zap.String("model", g.model),
		zap.String("language", string(req.Language)),
		zap.Duration("duration", duration),
		zap.Int("queries", len(bundle.All())),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return bundle, usage, nil
}

// InstrumentedRanker wraps a PageRanker with budget enforcement and logging.
type InstrumentedRanker struct {
	inner  domain.PageRanker
	model  string
	budget Checker
	logger *zap.Logger
}

// NewInstrumentedRanker wraps a ranker. budget may be nil.
func NewInstrumentedRanker(
	inner domain.PageRanker, model string, budget Checker, logger *zap.Logger,
) *InstrumentedRanker {
	return &InstrumentedRanker{inner: inner, model: model, budget: budget, logger: logger}
}

// Rank checks budget, delegates to the inner ranker, and records usage.
func (r *InstrumentedRanker) Rank(
	ctx context.Context, query string, pages []domain.CandidatePage,
) ([]domain.Ranking, domain.Usage, error) {
	if err := check(ctx, r.budget); err != nil {
		r.logger.Error("Budget exceeded", zap.String("model", r.model), zap.Error(err))
		return nil, domain.Usage{}, err
	}

	start := time.Now()
	rankings, usage, err := r.inner.Rank(ctx, query, pages)
	duration := time.Since(start)
	record(ctx, r.budget, usage)

	if err != nil {
		r.logger.Warn("Ranking failed",
			zap.String("model", r.model),
			zap.Int("candidates", len(pages)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, usage, fmt.Errorf("rank: %w", err)
	}

	r.logger.Debug("Ranking completed",
		zap.String("model", r.model),
		zap.Int("candidates", len(pages)),
		zap.Int("rankings", len(rankings)),
		zap.Duration("duration", duration),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return rankings, usage, nil
}

// InstrumentedEmbedder wraps a MultimodalEmbedder with logging and, when the
// provider reports tokens, budget accounting.
type InstrumentedEmbedder struct {
	inner    domain.MultimodalEmbedder
	provider string
	budget   Checker
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. budget may be nil.
func NewInstrumentedEmbedder(
	inner domain.MultimodalEmbedder, provider string, budget Checker, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{inner: inner, provider: provider, budget: budget, logger: logger}
}

// Embed implements domain.Embedder.
func (e *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return e.observe(ctx, "text", func() (domain.EmbeddingResult, error) { return e.inner.Embed(ctx, text) })
}

// EmbedImage implements domain.ImageEmbedder.
func (e *InstrumentedEmbedder) EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error) {
	return e.observe(ctx, "image", func() (domain.EmbeddingResult, error) { return e.inner.EmbedImage(ctx, image) })
}

func (e *InstrumentedEmbedder) observe(
	ctx context.Context, kind string, call func() (domain.EmbeddingResult, error),
) (domain.EmbeddingResult, error) {
	if err := check(ctx, e.budget); err != nil {
		e.logger.Error("Budget exceeded", zap.String("provider", e.provider), zap.Error(err))
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	result, err := call()
	duration := time.Since(start)

	if err != nil {
		e.logger.Error("Embedding request failed",
			zap.String("provider", e.provider),
			zap.String("kind", kind),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed %s: %w", kind, err)
	}

	if e.budget != nil && result.TotalTokens > 0 {
		e.budget.Record(ctx, int64(result.TotalTokens))
	}

	e.logger.Debug("Embedding request completed",
		zap.String("provider", e.provider),
		zap.String("kind", kind),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)
	return result, nil
}

func check(ctx context.Context, b Checker) error {
	if b == nil {
		return nil
	}
	if err := b.Check(ctx); err != nil {
		return fmt.Errorf("budget check: %w", err)
	}
	return nil
}

func record(ctx context.Context, b Checker, u domain.Usage) {
	if b != nil && u.TotalTokens > 0 {
		b.Record(ctx, int64(u.TotalTokens))
	}
}
