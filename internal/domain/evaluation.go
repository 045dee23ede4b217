package domain

// TopK is the number of coarse candidates kept per evaluated query.
const TopK = 15

// NDCGCutoff is the rank cutoff for NDCG.
const NDCGCutoff = 5

// Match is one coarse retrieval candidate.
type Match struct {
	Document        string  `json:"document"`
	PageNumber      int     `json:"page_number"`
	SimilarityScore float64 `json:"similarity_score"`
}

// QueryEvaluation is the retrieval outcome of a single query.
type QueryEvaluation struct {
	Query           string  `json:"query"`
	Document        string  `json:"document"`
	PageNumber      int     `json:"page_number"`
	RecallPosition  int     `json:"recall_position"`
	SimilarityScore float64 `json:"similarity_score"`
	NDCGScore       float64 `json:"ndcg_score"`
	TopMatches      []Match `json:"top_15_matches"`
}

// EvaluationSummary aggregates successful evaluations. Means are 0 when nothing succeeded.
type EvaluationSummary struct {
	AverageRecallPosition float64 `json:"average_recall_position"`
	AverageNDCG           float64 `json:"average_ndcg"`
	AverageSimilarity     float64 `json:"average_similarity"`
	RecallAt1             float64 `json:"recall_at_1"`
	RecallAt5             float64 `json:"recall_at_5"`
	SuccessfulEntries     int     `json:"successful_entries"`
	FailedEntries         int     `json:"failed_entries"`
}

// EvaluationReport is the persisted evaluation file.
type EvaluationReport struct {
	QueryResults []QueryEvaluation `json:"query_results"`
	Summary      EvaluationSummary `json:"summary"`
}
