package domain

import "context"

// KeyPrefix namespaces every key docbench writes to the KV store.
const KeyPrefix = "docbench:"

// Usage is the token accounting of one generative call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateRequest is the input of one query generation call.
type GenerateRequest struct {
	Language     Language
	ContextImage []byte
	PageImage    []byte
}

// QueryGenerator synthesizes queries for a page. Fails with ErrGeneration on null or malformed output.
type QueryGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (QueryBundle, Usage, error)
}

// PageRanker judges candidate pages against a query and returns up to MaxRanked rankings.
type PageRanker interface {
	Rank(ctx context.Context, query string, pages []CandidatePage) ([]Ranking, Usage, error)
}

// PageSource is an opened paginated document.
type PageSource interface {
	NumPages() int
	// RenderPage fails with ErrRender when page is out of range.
	RenderPage(page int) ([]byte, error)
	Close() error
}

// Rasterizer opens documents for rendering. Fails with ErrRender when the file cannot be opened.
type Rasterizer interface {
	Open(path string) (PageSource, error)
}
