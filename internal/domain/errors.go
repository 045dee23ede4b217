package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource (document file, page, record).
	ErrNotFound = errors.New("not found")
	// ErrRender signals that a page could not be rasterized.
	ErrRender = errors.New("render failed")
	// ErrGeneration signals a null or malformed structured response from the query generator.
	ErrGeneration = errors.New("query generation failed")
	// ErrInvalidQueries signals a query bundle that failed validation.
	ErrInvalidQueries = errors.New("invalid query bundle")
	// ErrEmbedding signals an embedding provider failure.
	ErrEmbedding = errors.New("embedding provider error")
	// ErrRanking signals a failed rerank call.
	ErrRanking = errors.New("ranking failed")
	// ErrRateLimited signals a rate limit hit on the provider side.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded signals an exhausted token budget.
	ErrQuotaExceeded = errors.New("token quota exceeded")
	// ErrNoCandidates signals a query without any usable rerank candidate.
	ErrNoCandidates = errors.New("no candidates")
)

// PageError wraps a failure with the document and page it happened on.
type PageError struct {
	Document string
	Page     int
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%s page %d: %s", e.Document, e.Page, e.Err.Error())
}

func (e *PageError) Unwrap() error { return e.Err }

// NewPageError creates a page-scoped error.
func NewPageError(document string, page int, err error) error {
	return &PageError{Document: document, Page: page, Err: err}
}
