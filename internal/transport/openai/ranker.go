package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
)

const purposeRerank = "rerank"

// Ranker judges rendered candidate pages against a query in a single
// multimodal chat completion.
type Ranker struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	prompt      string
	logger      *zap.Logger
}

// NewRanker creates a page ranker. An empty prompt uses DefaultRankingPrompt.
func NewRanker(cfg *Config, prompt string) *Ranker {
	if prompt == "" {
		prompt = DefaultRankingPrompt
	}
	return &Ranker{
		client:      newClient(cfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		prompt:      prompt,
		logger:      loggerOrNop(cfg.Logger),
	}
}

type rankingsResponse struct {
	Rankings []json.RawMessage `json:"rankings"`
}

// rawRanking accepts numbers written as floats or strings.
type rawRanking struct {
	PageIndex any `json:"page_index"`
	Reason    any `json:"reason"`
	Score     any `json:"score"`
}

// decodeRankings converts each item on its own. Items without a usable
// integer page_index or numeric score are dropped and counted.
func decodeRankings(items []json.RawMessage) ([]domain.Ranking, int) {
	out := make([]domain.Ranking, 0, len(items))
	dropped := 0
	for _, raw := range items {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var item rawRanking
		if err := dec.Decode(&item); err != nil {
			dropped++
			continue
		}
		idx, okIdx := asInt(item.PageIndex)
		score, okScore := asFloat(item.Score)
		if !okIdx || !okScore {
			dropped++
			continue
		}
		reason, _ := item.Reason.(string)
		out = append(out, domain.Ranking{PageIndex: idx, Reason: reason, Score: score})
	}
	return out, dropped
}

func asFloat(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch x := v.(type) {
	case json.Number:
		f, err = x.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// Rank implements domain.PageRanker. Items that cannot be read as a ranking
// are dropped; out-of-range indices are left for the caller to drop.
func (r *Ranker) Rank(ctx context.Context, query string, pages []domain.CandidatePage) ([]domain.Ranking, domain.Usage, error) {
	if len(pages) == 0 {
		return nil, domain.Usage{}, domain.ErrNoCandidates
	}

	parts := make([]openai.ChatMessagePart, 0, 1+2*len(pages))
	parts = append(parts, textPart("Query: "+query))
	for _, p := range pages {
		parts = append(parts,
			textPart(fmt.Sprintf("\nPage %d of %s:", p.Index, filepath.Base(p.Document))),
			imagePart(p.Image),
		)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.prompt + fmt.Sprintf(rankingInstructions, domain.MaxRanked)},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		MaxTokens:      r.maxTokens,
		Temperature:    r.temperature,
	}

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, chatReq)
	metrics.GenerationRequestDuration.WithLabelValues(purposeRerank, r.model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(purposeRerank, r.model, "error").Inc()
		return nil, domain.Usage{}, parseAPIError("ranking", err, domain.ErrRanking)
	}

	usage := usageOf(resp.Usage)
	recordTokens(purposeRerank, r.model, usage)

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(purposeRerank, r.model, "invalid").Inc()
		return nil, usage, fmt.Errorf("%w: empty response", domain.ErrRanking)
	}
	content := stripFences(resp.Choices[0].Message.Content)

	var out rankingsResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(purposeRerank, r.model, "invalid").Inc()
		r.logger.Debug("Malformed ranking output", zap.String("content", content))
		return nil, usage, fmt.Errorf("%w: malformed response: %w", domain.ErrRanking, err)
	}

	rankings, dropped := decodeRankings(out.Rankings)
	if dropped > 0 {
		r.logger.Warn("Dropped malformed rankings", zap.Int("dropped", dropped), zap.Int("kept", len(rankings)))
	}
	metrics.GenerationRequestsTotal.WithLabelValues(purposeRerank, r.model, "success").Inc()
	return rankings, usage, nil
}
