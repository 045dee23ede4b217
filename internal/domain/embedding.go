package domain

import (
	"context"
	"fmt"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// ImageEmbedder turns a rendered page into a vector in the same space as Embedder.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) (EmbeddingResult, error)
}

// MultimodalEmbedder embeds both sides of a retrieval pair.
type MultimodalEmbedder interface {
	Embedder
	ImageEmbedder
}

// HealthChecker is implemented by provider clients that can check their endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult is one vector plus the tokens the provider billed for it.
// Token counts are zero for providers that do not report usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// WithQueryInstruction prefixes every query with instruction before embedding.
// Pages are embedded as-is. An empty instruction returns inner unchanged.
func WithQueryInstruction(inner MultimodalEmbedder, instruction string) MultimodalEmbedder {
	if instruction == "" {
		return inner
	}
	return &instructed{MultimodalEmbedder: inner, instruction: instruction}
}

type instructed struct {
	MultimodalEmbedder
	instruction string
}

func (e *instructed) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	res, err := e.MultimodalEmbedder.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("embed instructed query: %w", err)
	}
	return res, nil
}
