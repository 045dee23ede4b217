package filter

import (
	"context"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// ImageEmbedder vectorizes reference images and corpus pages.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error)
}

// Saver persists the match report.
type Saver interface {
	Save(v any) error
}
