package export

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/usecase/progress"
)

// Output file names.
const (
	TrainFile  = "train.parquet"
	CorpusFile = "corpus.parquet"
)

var (
	errNoQueries = errors.New("no valid queries in corpus")
	errNoImages  = errors.New("no page could be rendered")
)

// PageRenderer rasterizes a single page of a document file.
type PageRenderer interface {
	RenderPage(path string, page int) ([]byte, error)
}

// Options locates inputs and outputs.
type Options struct {
	DocumentsDir string
	OutputDir    string
}

// Summary counts what was exported.
type Summary struct {
	Queries          int           `json:"queries"`
	DroppedQueries   int           `json:"dropped_queries"`
	Pages            int           `json:"pages"`
	MissingDocuments int           `json:"missing_documents"`
	FailedPages      int           `json:"failed_pages"`
	Duration         time.Duration `json:"duration"`
}

// Service writes train.parquet and corpus.parquet.
type Service struct {
	renderer PageRenderer
	opts     Options
	logger   *zap.Logger
}

// New creates an export service.
func New(renderer PageRenderer, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{renderer: renderer, opts: opts, logger: logger}
}

// Run exports entries. Missing documents and unrenderable pages are logged
// and left out of the corpus file, and so are the queries pointing at them:
// every pos in train.parquet has a docid in corpus.parquet.
func (s *Service) Run(ctx context.Context, entries []domain.PageResult, tracker *progress.Tracker) (Summary, error) {
	start := time.Now()
	train, refs := BuildTrain(entries)
	if len(train) == 0 {
		return Summary{}, errNoQueries
	}
	var summary Summary

	corpus := make([]CorpusRow, 0, len(refs))
	written := make(map[string]bool, len(refs))
	missing := map[string]bool{}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("export interrupted: %w", err)
		}
		if missing[ref.Document] {
			continue
		}
		path := filepath.Join(s.opts.DocumentsDir, ref.Document)
		if _, err := os.Stat(path); err != nil {
			missing[ref.Document] = true
			summary.MissingDocuments++
			s.logger.Warn("Document not found", zap.String("path", path))
			continue
		}

		image, err := s.renderer.RenderPage(path, ref.Page)
		if err != nil {
			summary.FailedPages++
			s.logger.Warn("Page render failed",
				zap.String("document", ref.Document),
				zap.Int("page", ref.Page),
				zap.Error(err),
			)
			continue
		}
		id := domain.PageID(ref.Document, ref.Page)
		written[id] = true
		corpus = append(corpus, CorpusRow{
			DocID: id,
			Image: base64.StdEncoding.EncodeToString(image),
		})
	}
	if len(corpus) == 0 {
		return summary, errNoImages
	}
	summary.Pages = len(corpus)

	kept := slices.DeleteFunc(train, func(r TrainRow) bool { return !written[r.Pos] })
	summary.DroppedQueries = len(train) - len(kept)
	train = kept
	summary.Queries = len(train)

	if err := os.MkdirAll(s.opts.OutputDir, 0o750); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}
	if err := parquet.WriteFile(filepath.Join(s.opts.OutputDir, TrainFile), train); err != nil {
		return summary, fmt.Errorf("write %s: %w", TrainFile, err)
	}
	tracker.Add(ctx, domain.CounterRowsWritten, int64(len(train)))
	if err := parquet.WriteFile(filepath.Join(s.opts.OutputDir, CorpusFile), corpus); err != nil {
		return summary, fmt.Errorf("write %s: %w", CorpusFile, err)
	}
	tracker.Add(ctx, domain.CounterRowsWritten, int64(len(corpus)))

	summary.Duration = time.Since(start)
	s.logger.Info("Dataset exported",
		zap.String("dir", s.opts.OutputDir),
		zap.Int("queries", summary.Queries),
		zap.Int("dropped_queries", summary.DroppedQueries),
		zap.Int("pages", summary.Pages),
		zap.Int("missing_documents", summary.MissingDocuments),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
