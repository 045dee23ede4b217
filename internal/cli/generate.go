package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/clientpool"
	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/ratelimit"
	"github.com/kailas-cloud/docbench/internal/render"
	"github.com/kailas-cloud/docbench/internal/retry"
	"github.com/kailas-cloud/docbench/internal/sink"
	"github.com/kailas-cloud/docbench/internal/usecase/generate"
)

type generateOptions struct {
	documents string
	output    string
	pages     int
	seed      int64
}

var generateOpts generateOptions

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate multilingual queries for every page of a folder of PDFs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			generateOpts.apply(a)
			job, err := newGenerateJob(ctx, a)
			if err != nil {
				return err
			}
			stop := a.serveOps(ctx)
			defer stop()

			summary, err := job.run(ctx)
			printGenerateSummary(a.cfg.Paths.Corpus, summary)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateOpts.documents, "documents", "d", "", "folder of PDFs (overrides paths.documents)")
	generateCmd.Flags().StringVarP(&generateOpts.output, "output", "o", "", "JSONL output (overrides paths.corpus)")
	generateCmd.Flags().IntVar(&generateOpts.pages, "pages-per-document", -1, "sample at most N pages per document, 0 = all")
	generateCmd.Flags().Int64Var(&generateOpts.seed, "seed", 0, "page sampling seed")
}

func (o generateOptions) apply(a *app) {
	if o.documents != "" {
		a.cfg.Paths.Documents = o.documents
	}
	if o.output != "" {
		a.cfg.Paths.Corpus = o.output
	}
	if o.pages >= 0 {
		a.cfg.Generation.PagesPerDocument = o.pages
	}
	if o.seed != 0 {
		a.cfg.Generation.Seed = o.seed
	}
}

// generateJob holds the collaborators of a generation stage.
type generateJob struct {
	a       *app
	raster  *render.Rasterizer
	pool    *clientpool.Pool[domain.QueryGenerator]
	limiter *ratelimit.Limiter
	meter   *ratelimit.Meter
	retrier *retry.Executor
	opts    generate.Options
	logger  *zap.Logger
}

func newGenerateJob(ctx context.Context, a *app) (*generateJob, error) {
	logger := a.stageLogger(domain.StageGenerate)
	gc := a.cfg.Generation

	languages := make([]domain.Language, 0, len(gc.Languages))
	for _, l := range gc.Languages {
		lang, err := domain.ParseLanguage(l)
		if err != nil {
			return nil, fmt.Errorf("generation.languages: %w", err)
		}
		languages = append(languages, lang)
	}

	pool, err := a.generators(ctx, logger)
	if err != nil {
		return nil, err
	}
	limiter, meter, err := a.limiter()
	if err != nil {
		return nil, err
	}

	return &generateJob{
		a:       a,
		raster:  render.New(gc.RenderDPI),
		pool:    pool,
		limiter: limiter,
		meter:   meter,
		retrier: a.retrier(logger),
		opts: generate.Options{
			ChunkSize:              gc.ChunkSize,
			MaxConcurrentDocuments: gc.MaxConcurrentDocuments,
			PagesPerDocument:       gc.PagesPerDocument,
			Seed:                   gc.Seed,
			Languages:              languages,
		},
		logger: logger,
	}, nil
}

func (j *generateJob) run(ctx context.Context) (summary generate.Summary, err error) {
	ctx = domain.WithStage(ctx, domain.StageGenerate)
	tracker := j.a.board.Begin(ctx, domain.StageGenerate)
	defer func() { tracker.Finish(ctx, err) }()

	paths := j.a.cfg.Paths
	documents, err := generate.ListDocuments(paths.Documents)
	if err != nil {
		return generate.Summary{}, err
	}
	if len(documents) == 0 {
		return generate.Summary{}, fmt.Errorf("no PDF documents in %s", paths.Documents)
	}

	out, err := sink.OpenJSONL(paths.Corpus)
	if err != nil {
		return generate.Summary{}, err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	j.logger.Info("Generating queries",
		zap.Int("documents", len(documents)),
		zap.String("output", paths.Corpus),
		zap.Int("pool_size", j.pool.Size()),
		zap.Float64("rps", j.limiter.Rate()),
	)

	scheduler := generate.New(j.raster, j.pool, j.limiter, j.retrier, out, j.opts, j.logger).WithMeter(j.meter)
	summary, err = scheduler.Run(ctx, documents, tracker)

	j.logger.Info("Generation finished",
		zap.Int("pages_ok", summary.PagesOK),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Int("lines", out.Count()),
		zap.Float64("actual_rps", j.meter.Rate()),
		zap.Duration("duration", summary.Duration),
	)
	return summary, err
}
