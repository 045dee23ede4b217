// Package rerank reorders coarse retrieval candidates with a generative judge.
package rerank

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
	"github.com/kailas-cloud/docbench/internal/usecase/progress"
)

// Options tunes a rerank run.
type Options struct {
	DocumentsDir  string
	MaxCandidates int
}

// Summary counts rerank outcomes.
type Summary struct {
	Queries  int           `json:"queries"`
	Ranked   int           `json:"ranked"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Service sends each query's candidates to the ranker and persists the
// cumulative result after every query.
type Service struct {
	ranker   domain.PageRanker
	renderer PageRenderer
	opts     Options
	logger   *zap.Logger
	exists   func(path string) bool
}

// New creates a rerank service.
func New(ranker domain.PageRanker, renderer PageRenderer, opts Options, logger *zap.Logger) *Service {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = domain.TopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ranker: ranker, renderer: renderer, opts: opts, logger: logger, exists: fileExists}
}

// Run reranks evals in order. A query that cannot be ranked is skipped, not
// retried. Only a save failure or cancellation stops the run.
func (s *Service) Run(
	ctx context.Context, evals []domain.QueryEvaluation, out Saver, tracker *progress.Tracker,
) (Summary, error) {
	start := time.Now()
	summary := Summary{Queries: len(evals)}
	results := make([]domain.RankedQuery, 0, len(evals))
	// Start from an empty file so a previous run's output never survives.
	if err := out.Save(results); err != nil {
		return summary, fmt.Errorf("save ranked results: %w", err)
	}

	for i, ev := range evals {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("rerank interrupted: %w", err)
		}

		ranked, err := s.rerankOne(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			summary.Skipped++
			metrics.QueriesRerankedTotal.WithLabelValues("skipped").Inc()
			tracker.Inc(ctx, domain.CounterQueriesSkipped)
			s.logger.Warn("Query skipped",
				zap.Int("index", i),
				zap.String("query", ev.Query),
				zap.Error(err),
			)
			continue
		}

		results = append(results, domain.RankedQuery{Query: ev.Query, RankedDocuments: ranked})
		if err := out.Save(results); err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("save ranked results: %w", err)
		}
		summary.Ranked++
		metrics.QueriesRerankedTotal.WithLabelValues("ok").Inc()
		tracker.Inc(ctx, domain.CounterQueriesOK)
		s.logger.Debug("Query reranked",
			zap.Int("index", i),
			zap.Int("ranked", len(ranked)),
		)
	}

	summary.Duration = time.Since(start)
	s.logger.Info("Rerank completed",
		zap.Int("queries", summary.Queries),
		zap.Int("ranked", summary.Ranked),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (s *Service) rerankOne(ctx context.Context, ev domain.QueryEvaluation) ([]domain.RankedDocument, error) {
	candidates := s.candidates(ev)
	if len(candidates) == 0 {
		return nil, domain.ErrNoCandidates
	}

	rankings, _, err := s.ranker.Rank(ctx, ev.Query, candidates)
	if err != nil {
		return nil, err
	}
	ranked := Merge(candidates, rankings)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no valid rankings", domain.ErrRanking)
	}
	return ranked, nil
}

// candidates renders the usable top matches once each, indexed in request order.
func (s *Service) candidates(ev domain.QueryEvaluation) []domain.CandidatePage {
	top := ev.TopMatches[:min(s.opts.MaxCandidates, len(ev.TopMatches))]
	seen := make(map[string]bool, len(top))
	out := make([]domain.CandidatePage, 0, len(top))

	for _, m := range top {
		if m.Document == "" {
			continue
		}
		id := domain.PageID(m.Document, m.PageNumber)
		if seen[id] {
			continue
		}
		seen[id] = true

		path := filepath.Join(s.opts.DocumentsDir, m.Document)
		if !s.exists(path) {
			s.logger.Warn("Candidate document missing", zap.String("path", path))
			continue
		}
		image, err := s.renderer.RenderPage(path, m.PageNumber)
		if err != nil {
			s.logger.Warn("Candidate render failed",
				zap.String("document", m.Document),
				zap.Int("page", m.PageNumber),
				zap.Error(err),
			)
			continue
		}
		out = append(out, domain.CandidatePage{
			Index:      len(out),
			Document:   m.Document,
			PageNumber: m.PageNumber,
			Image:      image,
		})
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
