// Package generate drives query generation over a folder of documents.
package generate

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
	"github.com/kailas-cloud/docbench/internal/retry"
	"github.com/kailas-cloud/docbench/internal/usecase/progress"
)

// DefaultChunkSize is the number of pages generated concurrently per document.
const DefaultChunkSize = 5

// Options tunes the scheduler.
type Options struct {
	ChunkSize              int
	MaxConcurrentDocuments int // 0 = unlimited
	PagesPerDocument       int // 0 = all pages
	Seed                   int64
	Languages              []domain.Language
}

// Summary counts what a run produced.
type Summary struct {
	Documents       int           `json:"documents"`
	DocumentsFailed int           `json:"documents_failed"`
	Pages           int           `json:"pages"`
	PagesOK         int           `json:"pages_ok"`
	PagesFailed     int           `json:"pages_failed"`
	Duration        time.Duration `json:"duration"`
}

// Scheduler turns documents into page tasks and writes one result per task.
//
// Per document the first page is rendered once as context, the remaining
// pages run in chunks of ChunkSize with a barrier between chunks. Documents
// run concurrently.
type Scheduler struct {
	raster  domain.Rasterizer
	pool    GeneratorPool
	limiter Limiter
	retrier Retrier
	sink    Sink
	meter   Meter
	opts    Options
	logger  *zap.Logger
}

// New creates a scheduler.
func New(
	raster domain.Rasterizer, pool GeneratorPool, limiter Limiter, retrier Retrier, sink Sink,
	opts Options, logger *zap.Logger,
) *Scheduler {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if len(opts.Languages) == 0 {
		opts.Languages = domain.Languages()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		raster: raster, pool: pool, limiter: limiter, retrier: retrier, sink: sink,
		opts: opts, logger: logger,
	}
}

// WithMeter reports successful generation calls to m.
func (s *Scheduler) WithMeter(m Meter) *Scheduler {
	s.meter = m
	return s
}

// run carries the state shared by one Run call.
type run struct {
	tracker *progress.Tracker

	pages, pagesOK, pagesFailed atomic.Int64
	docsFailed                  atomic.Int64

	errOnce sync.Once
	err     error
	cancel  context.CancelFunc
}

// fail records the first fatal error and stops the run.
func (r *run) fail(err error) {
	r.errOnce.Do(func() {
		r.err = err
		r.cancel()
	})
}

// Run processes documents (file paths). Page and document failures are
// written as error results; only a sink failure or cancellation ends the run
// early and is returned.
func (s *Scheduler) Run(ctx context.Context, documents []string, tracker *progress.Tracker) (Summary, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{tracker: tracker, cancel: cancel}

	var sem chan struct{}
	if s.opts.MaxConcurrentDocuments > 0 {
		sem = make(chan struct{}, s.opts.MaxConcurrentDocuments)
	}

	var wg sync.WaitGroup
	for _, path := range documents {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			s.processDocument(ctx, r, path)
		}()
	}
	wg.Wait()

	summary := Summary{
		Documents:       len(documents),
		DocumentsFailed: int(r.docsFailed.Load()),
		Pages:           int(r.pages.Load()),
		PagesOK:         int(r.pagesOK.Load()),
		PagesFailed:     int(r.pagesFailed.Load()),
		Duration:        time.Since(start),
	}

	if r.err != nil {
		return summary, r.err
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("generation interrupted: %w", err)
	}
	return summary, nil
}

func (s *Scheduler) processDocument(ctx context.Context, r *run, path string) {
	doc := filepath.Base(path)
	log := s.logger.With(zap.String("document", doc))
	start := time.Now()

	src, err := s.raster.Open(path)
	if err != nil {
		s.failDocument(ctx, r, doc, err, time.Since(start))
		return
	}
	defer src.Close()

	contextImage, err := src.RenderPage(0)
	if err != nil {
		s.failDocument(ctx, r, doc, fmt.Errorf("render context page: %w", err), time.Since(start))
		return
	}

	pages := s.selectPages(doc, src.NumPages())
	if len(pages) == 0 {
		log.Warn("Document has no pages besides the context page")
	}

	for i := 0; i < len(pages); i += s.opts.ChunkSize {
		if ctx.Err() != nil {
			return
		}
		chunk := pages[i:min(i+s.opts.ChunkSize, len(pages))]

		var wg sync.WaitGroup
		for _, page := range chunk {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.processPage(ctx, r, doc, src, page, contextImage)
			}()
		}
		wg.Wait()
	}

	metrics.DocumentsTotal.WithLabelValues("ok").Inc()
	r.tracker.Inc(ctx, domain.CounterDocumentsOK)
	log.Info("Document processed",
		zap.Int("pages", len(pages)),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) processPage(
	ctx context.Context, r *run, doc string, src domain.PageSource, page int, contextImage []byte,
) {
	start := time.Now()
	task := domain.PageTask{
		Document:     doc,
		Page:         page,
		Language:     s.opts.Languages[page%len(s.opts.Languages)],
		ContextImage: contextImage,
	}

	bundle, err := s.generate(ctx, src, &task)
	if ctx.Err() != nil && err != nil {
		// Cancelled mid-flight: the page was never really attempted.
		return
	}

	var result domain.PageResult
	if err != nil {
		err = domain.NewPageError(task.Document, task.Page, err)
		result = domain.NewPageFailure(doc, page, err, time.Since(start))
		result.Language = task.Language
		s.logger.Warn("Page failed",
			zap.String("document", task.Document),
			zap.Int("page", task.Page),
			zap.Error(err),
		)
	} else {
		result = domain.NewPageOK(doc, page, bundle, time.Since(start))
	}

	if err := s.sink.Write(result); err != nil {
		r.fail(fmt.Errorf("write result %s: %w", domain.PageID(doc, page), err))
		return
	}

	r.pages.Add(1)
	if result.OK() {
		r.pagesOK.Add(1)
		metrics.PagesTotal.WithLabelValues("ok").Inc()
		r.tracker.Inc(ctx, domain.CounterPagesOK)
	} else {
		r.pagesFailed.Add(1)
		metrics.PagesTotal.WithLabelValues("error").Inc()
		r.tracker.Inc(ctx, domain.CounterPagesFailed)
	}
}

// generate renders the task's page and calls a generator under the rate
// limit and retry policy.
func (s *Scheduler) generate(ctx context.Context, src domain.PageSource, task *domain.PageTask) (domain.QueryBundle, error) {
	image, err := src.RenderPage(task.Page)
	if err != nil {
		return domain.QueryBundle{}, fmt.Errorf("render page: %w", err)
	}
	task.PageImage = image
	req := task.Request()

	var bundle domain.QueryBundle
	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Acquire(ctx); err != nil {
			return retry.Permanent(err)
		}
		b, _, err := s.pool.Get().Generate(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrQuotaExceeded) {
				return retry.Permanent(err)
			}
			return err
		}
		if s.meter != nil {
			s.meter.RecordSuccess()
		}
		bundle = b
		return nil
	})
	return bundle, err
}

// failDocument writes the single page-0 error result of an unreadable document.
func (s *Scheduler) failDocument(ctx context.Context, r *run, doc string, err error, elapsed time.Duration) {
	err = domain.NewPageError(doc, 0, err)
	s.logger.Error("Document failed", zap.String("document", doc), zap.Error(err))
	r.docsFailed.Add(1)
	metrics.DocumentsTotal.WithLabelValues("error").Inc()
	r.tracker.Inc(ctx, domain.CounterDocumentsFailed)

	if werr := s.sink.Write(domain.NewPageFailure(doc, 0, err, elapsed)); werr != nil {
		r.fail(fmt.Errorf("write result %s: %w", domain.PageID(doc, 0), werr))
	}
}

// selectPages returns the pages after the context page, sampled down to
// PagesPerDocument when set. The sample is stable per (seed, document).
func (s *Scheduler) selectPages(doc string, numPages int) []int {
	pages := make([]int, 0, max(numPages-1, 0))
	for p := 1; p < numPages; p++ {
		pages = append(pages, p)
	}
	n := s.opts.PagesPerDocument
	if n <= 0 || n >= len(pages) {
		return pages
	}

	h := fnv.New64a()
	h.Write([]byte(doc))
	rng := rand.New(rand.NewPCG(uint64(s.opts.Seed), h.Sum64())) //nolint:gosec // sampling, not security
	rng.Shuffle(len(pages), func(i, j int) { pages[i], pages[j] = pages[j], pages[i] })
	picked := pages[:n]
	slices.Sort(picked)
	return picked
}

// ListDocuments returns the PDF files of dir, sorted by name.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read documents folder %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
