// Package evaluate scores how well query embeddings retrieve the page they
// were generated from.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
	"github.com/kailas-cloud/docbench/internal/usecase/progress"
)

// Default settings.
const (
	DefaultQueryField = "multimodal_query"
	DefaultWorkers    = 4
)

// Sentinel reasons a query is not evaluated.
var (
	errNoQuery     = errors.New("entry has no query text")
	errNoPageEmbed = errors.New("page has no embedding")
	errDimensions  = errors.New("query and page embeddings differ in length")
)

// Options tunes an evaluation.
type Options struct {
	DocumentsDir string
	QueryField   string
	TopK         int
	Workers      int
}

// Service embeds every page once and ranks all pages for each query.
type Service struct {
	embedder Embedder
	renderer PageRenderer
	opts     Options
	logger   *zap.Logger
}

// New creates an evaluation service.
func New(embedder Embedder, renderer PageRenderer, opts Options, logger *zap.Logger) *Service {
	if opts.QueryField == "" {
		opts.QueryField = DefaultQueryField
	}
	if opts.TopK <= 0 {
		opts.TopK = domain.TopK
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, renderer: renderer, opts: opts, logger: logger}
}

// Run evaluates entries and saves the report through out.
func (s *Service) Run(
	ctx context.Context, entries []domain.PageResult, out Saver, tracker *progress.Tracker,
) (domain.EvaluationSummary, error) {
	report, err := s.Evaluate(ctx, entries, tracker)
	if err != nil {
		return domain.EvaluationSummary{}, err
	}
	if err := out.Save(report); err != nil {
		return report.Summary, fmt.Errorf("save evaluation: %w", err)
	}
	return report.Summary, nil
}

// Evaluate builds the report. Only cancellation is returned as an error;
// per-page and per-query failures are counted in the summary.
func (s *Service) Evaluate(
	ctx context.Context, entries []domain.PageResult, tracker *progress.Tracker,
) (domain.EvaluationReport, error) {
	start := time.Now()

	pages, err := s.embedPages(ctx, entries)
	if err != nil {
		return domain.EvaluationReport{}, err
	}

	// Candidate pool: entries whose page embedded, in entry order.
	pool := make([]int, 0, len(entries))
	for i, v := range pages {
		if v != nil {
			pool = append(pool, i)
		}
	}
	s.logger.Info("Pages embedded",
		zap.Int("entries", len(entries)),
		zap.Int("embedded", len(pool)),
		zap.Duration("duration", time.Since(start)),
	)

	evals := make([]*domain.QueryEvaluation, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range entries {
		g.Go(func() error {
			ev, err := s.evaluateQuery(gctx, entries, pages, pool, i)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("Query not evaluated",
					zap.String("document", entries[i].Document),
					zap.Int("page", entries[i].PageNumber),
					zap.Error(err),
				)
				metrics.QueriesEvaluatedTotal.WithLabelValues("failed").Inc()
				tracker.Inc(ctx, domain.CounterQueriesFailed)
				return nil
			}
			evals[i] = &ev
			metrics.QueriesEvaluatedTotal.WithLabelValues("ok").Inc()
			tracker.Inc(ctx, domain.CounterQueriesOK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.EvaluationReport{}, fmt.Errorf("evaluate queries: %w", err)
	}

	results := make([]domain.QueryEvaluation, 0, len(entries))
	for _, ev := range evals {
		if ev != nil {
			results = append(results, *ev)
		}
	}
	summary := Summarize(results, len(entries)-len(results))

	s.logger.Info("Evaluation completed",
		zap.Int("successful", summary.SuccessfulEntries),
		zap.Int("failed", summary.FailedEntries),
		zap.Float64("average_recall_position", summary.AverageRecallPosition),
		zap.Float64("average_ndcg", summary.AverageNDCG),
		zap.Duration("duration", time.Since(start)),
	)
	return domain.EvaluationReport{QueryResults: results, Summary: summary}, nil
}

// embedPages embeds each entry's page exactly once. Failed pages stay nil.
func (s *Service) embedPages(ctx context.Context, entries []domain.PageResult) ([][]float64, error) {
	out := make([][]float64, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, e := range entries {
		g.Go(func() error {
			v, err := s.embedPage(gctx, e)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("Page not embedded",
					zap.String("document", e.Document),
					zap.Int("page", e.PageNumber),
					zap.Error(err),
				)
				return nil
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embed pages: %w", err)
	}
	return out, nil
}

func (s *Service) embedPage(ctx context.Context, e domain.PageResult) ([]float64, error) {
	image, err := s.renderer.RenderPage(filepath.Join(s.opts.DocumentsDir, e.Document), e.PageNumber)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	res, err := s.embedder.EmbedImage(ctx, image)
	if err != nil {
		return nil, err
	}
	return Normalize(res.Embedding), nil
}

func (s *Service) evaluateQuery(
	ctx context.Context, entries []domain.PageResult, pages [][]float64, pool []int, i int,
) (domain.QueryEvaluation, error) {
	e := entries[i]
	var query string
	if e.Queries != nil {
		query = e.Queries.Field(s.opts.QueryField)
	}
	if query == "" {
		return domain.QueryEvaluation{}, errNoQuery
	}
	if pages[i] == nil {
		return domain.QueryEvaluation{}, errNoPageEmbed
	}

	res, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return domain.QueryEvaluation{}, err
	}
	q := Normalize(res.Embedding)
	if len(q) != len(pages[i]) {
		return domain.QueryEvaluation{}, fmt.Errorf("%w: query %d, page %d", errDimensions, len(q), len(pages[i]))
	}

	sims := make([]float64, len(pool))
	correct := -1
	for k, idx := range pool {
		sims[k] = Dot(q, pages[idx])
		if idx == i {
			correct = k
		}
	}

	order := Order(sims)
	rank := RecallPosition(order, correct)

	top := make([]domain.Match, 0, min(s.opts.TopK, len(order)))
	for _, k := range order[:min(s.opts.TopK, len(order))] {
		c := entries[pool[k]]
		top = append(top, domain.Match{
			Document:        c.Document,
			PageNumber:      c.PageNumber,
			SimilarityScore: sims[k],
		})
	}

	return domain.QueryEvaluation{
		Query:           query,
		Document:        e.Document,
		PageNumber:      e.PageNumber,
		RecallPosition:  rank,
		SimilarityScore: sims[correct],
		NDCGScore:       NDCG(rank, domain.NDCGCutoff),
		TopMatches:      top,
	}, nil
}
