package evaluate

import (
	"math"
	"slices"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// Normalize returns v scaled to unit L2 norm. A zero vector stays zero.
func Normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// Dot is the cosine similarity of two normalized vectors of equal length.
// Callers check lengths; extra dimensions of a longer vector are ignored.
func Dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := range n {
		s += a[i] * b[i]
	}
	return s
}

// Order returns candidate indices by descending similarity. Equal scores
// keep their original order.
func Order(similarities []float64) []int {
	idx := make([]int, len(similarities))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case similarities[a] > similarities[b]:
			return -1
		case similarities[a] < similarities[b]:
			return 1
		default:
			return 0
		}
	})
	return idx
}

// RecallPosition is the 0-based position of correct in order, or -1.
func RecallPosition(order []int, correct int) int {
	return slices.Index(order, correct)
}

// NDCG scores a single relevant item at 0-based rank with cutoff k.
// The ideal DCG of one relevant item is 1.
func NDCG(rank, k int) float64 {
	if rank < 0 || rank >= k {
		return 0
	}
	return 1 / math.Log2(float64(rank)+2)
}

// Summarize averages successful evaluations. Means stay 0 without any success.
func Summarize(results []domain.QueryEvaluation, failed int) domain.EvaluationSummary {
	s := domain.EvaluationSummary{SuccessfulEntries: len(results), FailedEntries: failed}
	if len(results) == 0 {
		return s
	}
	var recall, ndcg, sim float64
	var at1, at5 int
	for _, r := range results {
		recall += float64(r.RecallPosition)
		ndcg += r.NDCGScore
		sim += r.SimilarityScore
		if r.RecallPosition == 0 {
			at1++
		}
		if r.RecallPosition < domain.NDCGCutoff {
			at5++
		}
	}
	n := float64(len(results))
	s.AverageRecallPosition = recall / n
	s.AverageNDCG = ndcg / n
	s.AverageSimilarity = sim / n
	s.RecallAt1 = float64(at1) / n
	s.RecallAt5 = float64(at5) / n
	return s
}
