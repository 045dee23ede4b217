package domain

import (
	"fmt"
	"strings"
	"time"
)

// Language is the tag a query bundle is written in.
type Language string

// Supported query languages, in export order.
const (
	LanguageEN Language = "EN"
	LanguageFR Language = "FR"
	LanguageES Language = "ES"
	LanguageIT Language = "IT"
	LanguageDE Language = "DE"
)

// Languages returns the supported languages in export order.
func Languages() []Language {
	return []Language{LanguageEN, LanguageFR, LanguageES, LanguageIT, LanguageDE}
}

// ParseLanguage validates a language tag (case-insensitive).
func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Languages() {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown language %q", s)
}

// nanMarker is what a generator emits when it has nothing to say about a page.
const nanMarker = "NaN"

// PageTask is one unit of generation work. Consumed exactly once.
type PageTask struct {
	Document     string
	Page         int
	Language     Language
	ContextImage []byte
	PageImage    []byte
}

// Request builds the generator call for the task.
func (t PageTask) Request() GenerateRequest {
	return GenerateRequest{Language: t.Language, ContextImage: t.ContextImage, PageImage: t.PageImage}
}

// QueryBundle holds the synthetic queries generated for one page.
type QueryBundle struct {
	Language   Language `json:"language,omitempty"`
	Main       string   `json:"main_query"`
	Secondary  string   `json:"secondary_query"`
	Visual     string   `json:"visual_query,omitempty"`
	Multimodal string   `json:"multimodal_query,omitempty"`
}

// NewQueryBundle trims and validates generator output.
// At least two queries must be present and none may be the "NaN" placeholder.
func NewQueryBundle(lang Language, main, secondary, visual, multimodal string) (QueryBundle, error) {
	b := QueryBundle{
		Language:   lang,
		Main:       strings.TrimSpace(main),
		Secondary:  strings.TrimSpace(secondary),
		Visual:     strings.TrimSpace(visual),
		Multimodal: strings.TrimSpace(multimodal),
	}
	if err := b.Validate(); err != nil {
		return QueryBundle{}, err
	}
	return b, nil
}

// Validate checks the bundle invariants.
func (b QueryBundle) Validate() error {
	n := 0
	for _, q := range b.All() {
		if IsNaNQuery(q) {
			return fmt.Errorf("%w: NaN query", ErrInvalidQueries)
		}
		n++
	}
	if n < 2 {
		return fmt.Errorf("%w: need at least 2 queries, got %d", ErrInvalidQueries, n)
	}
	return nil
}

// All returns the non-empty queries in field order.
func (b QueryBundle) All() []string {
	out := make([]string, 0, 4)
	for _, q := range []string{b.Main, b.Secondary, b.Visual, b.Multimodal} {
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

// Field returns the query stored under a JSON field name.
func (b QueryBundle) Field(name string) string {
	switch name {
	case "main_query":
		return b.Main
	case "secondary_query":
		return b.Secondary
	case "visual_query":
		return b.Visual
	case "multimodal_query":
		return b.Multimodal
	default:
		return ""
	}
}

// HasNaN reports whether any query carries the NaN placeholder.
func (b QueryBundle) HasNaN() bool {
	for _, q := range []string{b.Main, b.Secondary, b.Visual, b.Multimodal} {
		if IsNaNQuery(q) {
			return true
		}
	}
	return false
}

// IsNaNQuery matches the placeholder bare or quoted.
func IsNaNQuery(q string) bool {
	q = strings.TrimSpace(q)
	return q == nanMarker || strings.Contains(q, `"`+nanMarker+`"`)
}

// PageResult is the outcome of a PageTask. Exactly one of Queries and Error is set.
type PageResult struct {
	Document       string       `json:"document"`
	PageNumber     int          `json:"page_number"`
	Language       Language     `json:"language,omitempty"`
	Queries        *QueryBundle `json:"queries"`
	Error          *string      `json:"error"`
	ProcessingTime float64      `json:"processing_time,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// NewPageOK creates a successful page result.
func NewPageOK(document string, page int, q QueryBundle, elapsed time.Duration) PageResult {
	return PageResult{
		Document:       document,
		PageNumber:     page,
		Language:       q.Language,
		Queries:        &q,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      time.Now().UTC(),
	}
}

// NewPageFailure creates a failed page result.
func NewPageFailure(document string, page int, err error, elapsed time.Duration) PageResult {
	msg := err.Error()
	return PageResult{
		Document:       document,
		PageNumber:     page,
		Error:          &msg,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      time.Now().UTC(),
	}
}

// OK reports whether the page produced queries.
func (r PageResult) OK() bool { return r.Queries != nil && r.Error == nil }

// PageID is the corpus identifier of a page: "<document>_<page>".
func PageID(document string, page int) string {
	return fmt.Sprintf("%s_%d", document, page)
}
