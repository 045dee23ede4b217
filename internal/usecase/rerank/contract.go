package rerank

// PageRenderer rasterizes a single page of a document file.
type PageRenderer interface {
	RenderPage(path string, page int) ([]byte, error)
}

// Saver rewrites the ranked output file.
type Saver interface {
	Save(v any) error
}
