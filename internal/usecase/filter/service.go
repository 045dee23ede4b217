// Package filter removes exported pages that look like a set of reference
// images, together with the training queries pointing at them.
package filter

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/usecase/evaluate"
	"github.com/kailas-cloud/docbench/internal/usecase/export"
	"github.com/kailas-cloud/docbench/internal/usecase/progress"
)

// Output file names.
const (
	TrainFile  = "train_filtered.parquet"
	CorpusFile = "corpus_filtered.parquet"
)

// Default settings.
const (
	DefaultThreshold = 0.76
	DefaultWorkers   = 4
)

var (
	errNoReferences = errors.New("no reference images")
	errEmptyCorpus  = errors.New("corpus is empty")
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Options locates inputs and outputs and sets the match threshold.
type Options struct {
	ReferencesDir string
	InputDir      string // holds train.parquet and corpus.parquet
	OutputDir     string
	Threshold     float64
	Workers       int
}

// Match is the closest reference image of a corpus page.
type Match struct {
	DocID     string  `json:"docid"`
	BestMatch string  `json:"best_match"`
	Score     float64 `json:"score"`
}

// Report lists the removed pages, highest score first.
type Report struct {
	Threshold float64 `json:"threshold"`
	Removed   []Match `json:"removed"`
}

// Summary counts what was filtered.
type Summary struct {
	References     int           `json:"references"`
	Pages          int           `json:"pages"`
	RemovedPages   int           `json:"removed_pages"`
	FailedPages    int           `json:"failed_pages"`
	Queries        int           `json:"queries"`
	RemovedQueries int           `json:"removed_queries"`
	Duration       time.Duration `json:"duration"`
}

// Service compares every corpus page against the reference images.
type Service struct {
	embedder ImageEmbedder
	opts     Options
	logger   *zap.Logger
}

// New creates a filter service.
func New(embedder ImageEmbedder, opts Options, logger *zap.Logger) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.OutputDir == "" {
		opts.OutputDir = opts.InputDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, opts: opts, logger: logger}
}

type reference struct {
	name string
	vec  []float64
}

// Run reads the exported dataset, drops every page whose best reference
// score is at or above the threshold and writes the filtered files.
// Pages that fail to embed are kept.
func (s *Service) Run(ctx context.Context, out Saver, tracker *progress.Tracker) (Summary, error) {
	start := time.Now()
	var summary Summary

	refs, err := s.loadReferences(ctx)
	if err != nil {
		return summary, err
	}
	summary.References = len(refs)

	train, err := parquet.ReadFile[export.TrainRow](filepath.Join(s.opts.InputDir, export.TrainFile))
	if err != nil {
		return summary, fmt.Errorf("read %s: %w", export.TrainFile, err)
	}
	corpus, err := parquet.ReadFile[export.CorpusRow](filepath.Join(s.opts.InputDir, export.CorpusFile))
	if err != nil {
		return summary, fmt.Errorf("read %s: %w", export.CorpusFile, err)
	}
	if len(corpus) == 0 {
		return summary, errEmptyCorpus
	}
	summary.Pages = len(corpus)

	matches, err := s.matchPages(ctx, corpus, refs, tracker)
	if err != nil {
		return summary, err
	}

	removed := make(map[string]bool)
	report := Report{Threshold: s.opts.Threshold, Removed: []Match{}}
	for _, m := range matches {
		switch {
		case m == nil:
			summary.FailedPages++
		case m.Score >= s.opts.Threshold:
			removed[m.DocID] = true
			report.Removed = append(report.Removed, *m)
		}
	}
	slices.SortStableFunc(report.Removed, func(a, b Match) int { return cmp.Compare(b.Score, a.Score) })
	summary.RemovedPages = len(removed)

	corpus = slices.DeleteFunc(corpus, func(r export.CorpusRow) bool { return removed[r.DocID] })
	kept := slices.DeleteFunc(train, func(r export.TrainRow) bool { return removed[r.Pos] })
	summary.RemovedQueries = len(train) - len(kept)
	summary.Queries = len(kept)

	if err := os.MkdirAll(s.opts.OutputDir, 0o750); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}
	if err := parquet.WriteFile(filepath.Join(s.opts.OutputDir, TrainFile), kept); err != nil {
		return summary, fmt.Errorf("write %s: %w", TrainFile, err)
	}
	if err := parquet.WriteFile(filepath.Join(s.opts.OutputDir, CorpusFile), corpus); err != nil {
		return summary, fmt.Errorf("write %s: %w", CorpusFile, err)
	}
	tracker.Add(ctx, domain.CounterRowsWritten, int64(len(kept)+len(corpus)))
	if err := out.Save(report); err != nil {
		return summary, fmt.Errorf("save filter report: %w", err)
	}

	summary.Duration = time.Since(start)
	s.logger.Info("Dataset filtered",
		zap.String("dir", s.opts.OutputDir),
		zap.Float64("threshold", s.opts.Threshold),
		zap.Int("removed_pages", summary.RemovedPages),
		zap.Int("removed_queries", summary.RemovedQueries),
		zap.Int("failed_pages", summary.FailedPages),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// loadReferences embeds every image in the references directory, in name order.
func (s *Service) loadReferences(ctx context.Context) ([]reference, error) {
	entries, err := os.ReadDir(s.opts.ReferencesDir)
	if err != nil {
		return nil, fmt.Errorf("read references: %w", err)
	}
	var refs []reference
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.opts.ReferencesDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read reference %s: %w", e.Name(), err)
		}
		res, err := s.embedder.EmbedImage(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("embed reference %s: %w", e.Name(), err)
		}
		refs = append(refs, reference{name: e.Name(), vec: evaluate.Normalize(res.Embedding)})
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w in %s", errNoReferences, s.opts.ReferencesDir)
	}
	s.logger.Info("References embedded", zap.Int("count", len(refs)))
	return refs, nil
}

// matchPages finds the best reference for each page. Failed pages stay nil.
func (s *Service) matchPages(
	ctx context.Context, corpus []export.CorpusRow, refs []reference, tracker *progress.Tracker,
) ([]*Match, error) {
	out := make([]*Match, len(corpus))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, row := range corpus {
		g.Go(func() error {
			m, err := s.matchPage(gctx, row, refs)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("Page not compared", zap.String("docid", row.DocID), zap.Error(err))
				tracker.Inc(ctx, domain.CounterPagesFailed)
				return nil
			}
			out[i] = &m
			tracker.Inc(ctx, domain.CounterPagesOK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("match pages: %w", err)
	}
	return out, nil
}

func (s *Service) matchPage(ctx context.Context, row export.CorpusRow, refs []reference) (Match, error) {
	image, err := base64.StdEncoding.DecodeString(row.Image)
	if err != nil {
		return Match{}, fmt.Errorf("decode image: %w", err)
	}
	res, err := s.embedder.EmbedImage(ctx, image)
	if err != nil {
		return Match{}, err
	}
	v := evaluate.Normalize(res.Embedding)

	m := Match{DocID: row.DocID, Score: -2}
	for _, ref := range refs {
		if len(ref.vec) != len(v) {
			return Match{}, fmt.Errorf("page has %d dimensions, reference %s has %d", len(v), ref.name, len(ref.vec))
		}
		if score := evaluate.Dot(v, ref.vec); score > m.Score {
			m.Score = score
			m.BestMatch = ref.name
		}
	}
	return m, nil
}
