package evaluate

import (
	"context"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// PageRenderer rasterizes a single page of a document file.
type PageRenderer interface {
	RenderPage(path string, page int) ([]byte, error)
}

// Embedder vectorizes queries and page images into one space.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
	EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error)
}

// Saver persists the evaluation report.
type Saver interface {
	Save(v any) error
}
