// Package export turns the generated corpus into a retrieval training set.
package export

import (
	"slices"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// TrainRow pairs a query with the id of its positive page.
type TrainRow struct {
	Q   string `parquet:"q"`
	Pos string `parquet:"pos"`
}

// CorpusRow is one page image, base64 encoded.
type CorpusRow struct {
	DocID string `parquet:"docid"`
	Image string `parquet:"image"`
}

// PageRef names a page referenced by the train set.
type PageRef struct {
	Document string
	Page     int
}

// BuildTrain collects every usable query grouped by language in export
// order (EN, FR, ES, IT, DE) and, within a language, in corpus order.
// Entries with an unknown language are ignored. It also returns the
// referenced pages sorted by document then page.
func BuildTrain(entries []domain.PageResult) ([]TrainRow, []PageRef) {
	byLang := make(map[domain.Language][]TrainRow, len(domain.Languages()))
	pages := make(map[PageRef]struct{})

	for _, e := range entries {
		if e.Queries == nil {
			continue
		}
		lang := e.Language
		if lang == "" {
			lang = e.Queries.Language
		}
		if _, err := domain.ParseLanguage(string(lang)); err != nil {
			continue
		}
		pos := domain.PageID(e.Document, e.PageNumber)
		for _, q := range e.Queries.All() {
			if domain.IsNaNQuery(q) {
				continue
			}
			byLang[lang] = append(byLang[lang], TrainRow{Q: q, Pos: pos})
			pages[PageRef{Document: e.Document, Page: e.PageNumber}] = struct{}{}
		}
	}

	var rows []TrainRow
	for _, lang := range domain.Languages() {
		rows = append(rows, byLang[lang]...)
	}

	refs := make([]PageRef, 0, len(pages))
	for p := range pages {
		refs = append(refs, p)
	}
	slices.SortFunc(refs, func(a, b PageRef) int {
		if a.Document != b.Document {
			if a.Document < b.Document {
				return -1
			}
			return 1
		}
		return a.Page - b.Page
	})
	return rows, refs
}
