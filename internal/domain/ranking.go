package domain

// MaxRanked caps the reranked list per query.
const MaxRanked = 5

// CandidatePage is a rendered page offered to the ranker.
// Index is its position in the request, which is what rankings refer to.
type CandidatePage struct {
	Index      int
	Document   string
	PageNumber int
	Image      []byte
}

// Ranking is one entry of a ranker response.
type Ranking struct {
	PageIndex int     `json:"page_index"`
	Reason    string  `json:"reason"`
	Score     float64 `json:"score"`
}

// RankedDocument is one reranked page, rank starting at 1.
type RankedDocument struct {
	Rank     int    `json:"rank"`
	FileName string `json:"file_name"`
	Page     int    `json:"page"`
}

// RankedQuery is one entry of the ranked output file.
type RankedQuery struct {
	Query           string           `json:"query"`
	RankedDocuments []RankedDocument `json:"ranked_documents"`
}
