package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/corpus"
	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/render"
	"github.com/kailas-cloud/docbench/internal/sink"
	"github.com/kailas-cloud/docbench/internal/usecase/evaluate"
)

type evaluateOptions struct {
	input  string
	output string
	sample int
	seed   int64
	field  string
}

var evaluateOpts evaluateOptions

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score retrieval of generated queries against embedded pages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			evaluateOpts.apply(a)
			job := newEvaluateJob(ctx, a)
			stop := a.serveOps(ctx)
			defer stop()

			summary, err := job.run(ctx)
			if err != nil {
				return err
			}
			printEvaluationSummary(a.cfg.Paths.Evaluation, summary)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateOpts.input, "input", "i", "", "JSONL corpus (overrides paths.corpus)")
	evaluateCmd.Flags().StringVarP(&evaluateOpts.output, "output", "o", "", "report file (overrides paths.evaluation)")
	evaluateCmd.Flags().IntVarP(&evaluateOpts.sample, "sample", "n", 0, "number of entries to evaluate")
	evaluateCmd.Flags().Int64Var(&evaluateOpts.seed, "seed", 0, "sampling seed")
	evaluateCmd.Flags().StringVar(&evaluateOpts.field, "query-field", "", "query used for retrieval")
}

func (o evaluateOptions) apply(a *app) {
	if o.input != "" {
		a.cfg.Paths.Corpus = o.input
	}
	if o.output != "" {
		a.cfg.Paths.Evaluation = o.output
	}
	if o.sample > 0 {
		a.cfg.Evaluation.SampleSize = o.sample
	}
	if o.seed != 0 {
		a.cfg.Evaluation.Seed = o.seed
	}
	if o.field != "" {
		a.cfg.Evaluation.QueryField = o.field
	}
}

type evaluateJob struct {
	a       *app
	service *evaluate.Service
	logger  *zap.Logger
}

func newEvaluateJob(ctx context.Context, a *app) *evaluateJob {
	logger := a.stageLogger(domain.StageEvaluate)
	ec := a.cfg.Evaluation
	svc := evaluate.New(a.embedder(ctx, logger), render.New(ec.RenderDPI), evaluate.Options{
		DocumentsDir: a.cfg.Paths.Documents,
		QueryField:   ec.QueryField,
		TopK:         ec.TopK,
		Workers:      ec.EmbedWorkers,
	}, logger)
	return &evaluateJob{a: a, service: svc, logger: logger}
}

func (j *evaluateJob) run(ctx context.Context) (summary domain.EvaluationSummary, err error) {
	ctx = domain.WithStage(ctx, domain.StageEvaluate)
	tracker := j.a.board.Begin(ctx, domain.StageEvaluate)
	defer func() { tracker.Finish(ctx, err) }()

	paths := j.a.cfg.Paths
	entries, stats, err := corpus.Load(paths.Corpus, j.logger)
	if err != nil {
		return domain.EvaluationSummary{}, err
	}
	ec := j.a.cfg.Evaluation
	sample := corpus.Sample(entries, ec.SampleSize, ec.Seed)

	j.logger.Info("Evaluating retrieval",
		zap.Int("usable", stats.Kept),
		zap.Int("sampled", len(sample)),
		zap.String("query_field", ec.QueryField),
		zap.String("output", paths.Evaluation),
	)
	return j.service.Run(ctx, sample, sink.NewSnapshot(paths.Evaluation), tracker)
}
