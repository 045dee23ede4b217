package rerank

import (
	"slices"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// Merge maps ranker output back to pages: rankings pointing outside
// candidates are dropped, the rest are stable-sorted by descending score
// and cut to domain.MaxRanked. Ranks start at 1.
func Merge(candidates []domain.CandidatePage, rankings []domain.Ranking) []domain.RankedDocument {
	valid := make([]domain.Ranking, 0, len(rankings))
	for _, r := range rankings {
		if r.PageIndex >= 0 && r.PageIndex < len(candidates) {
			valid = append(valid, r)
		}
	}
	slices.SortStableFunc(valid, func(a, b domain.Ranking) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(valid) > domain.MaxRanked {
		valid = valid[:domain.MaxRanked]
	}

	out := make([]domain.RankedDocument, len(valid))
	for i, r := range valid {
		c := candidates[r.PageIndex]
		out[i] = domain.RankedDocument{Rank: i + 1, FileName: c.Document, Page: c.PageNumber}
	}
	return out
}
