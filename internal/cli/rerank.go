package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/render"
	"github.com/kailas-cloud/docbench/internal/sink"
	"github.com/kailas-cloud/docbench/internal/usecase/rerank"
)

type rerankOptions struct {
	input  string
	output string
}

var rerankOpts rerankOptions

var rerankCmd = &cobra.Command{
	Use:   "rerank",
	Short: "Rerank retrieval candidates with a vision model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rerankOpts.apply(a)
			job, err := newRerankJob(ctx, a)
			if err != nil {
				return err
			}
			stop := a.serveOps(ctx)
			defer stop()

			summary, err := job.run(ctx)
			printRerankSummary(a.cfg.Paths.Ranked, summary)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(rerankCmd)

	rerankCmd.Flags().StringVarP(&rerankOpts.input, "input", "i", "", "evaluation report (overrides paths.evaluation)")
	rerankCmd.Flags().StringVarP(&rerankOpts.output, "output", "o", "", "ranked output (overrides paths.ranked)")
}

func (o rerankOptions) apply(a *app) {
	if o.input != "" {
		a.cfg.Paths.Evaluation = o.input
	}
	if o.output != "" {
		a.cfg.Paths.Ranked = o.output
	}
}

type rerankJob struct {
	a       *app
	service *rerank.Service
	logger  *zap.Logger
}

func newRerankJob(ctx context.Context, a *app) (*rerankJob, error) {
	logger := a.stageLogger(domain.StageRerank)
	rc := a.cfg.Rerank
	format, err := render.ParseFormat(rc.ImageFormat)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	renderer := render.New(rc.RenderDPI, render.WithFormat(format), render.WithJPEGQuality(rc.JPEGQuality))
	svc := rerank.New(a.ranker(ctx, logger), renderer, rerank.Options{
		DocumentsDir:  a.cfg.Paths.Documents,
		MaxCandidates: rc.MaxCandidates,
	}, logger)
	return &rerankJob{a: a, service: svc, logger: logger}, nil
}

func (j *rerankJob) run(ctx context.Context) (summary rerank.Summary, err error) {
	ctx = domain.WithStage(ctx, domain.StageRerank)
	tracker := j.a.board.Begin(ctx, domain.StageRerank)
	defer func() { tracker.Finish(ctx, err) }()

	paths := j.a.cfg.Paths
	var report domain.EvaluationReport
	if err := sink.NewSnapshot(paths.Evaluation).Load(&report); err != nil {
		return rerank.Summary{}, err
	}

	j.logger.Info("Reranking candidates",
		zap.Int("queries", len(report.QueryResults)),
		zap.String("output", paths.Ranked),
	)
	return j.service.Run(ctx, report.QueryResults, sink.NewSnapshot(paths.Ranked), tracker)
}
