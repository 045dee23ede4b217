package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/corpus"
	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/render"
	"github.com/kailas-cloud/docbench/internal/usecase/export"
)

type exportOptions struct {
	input  string
	output string
}

var exportOpts exportOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the corpus as train/corpus parquet files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			exportOpts.apply(a)
			job := newExportJob(a)
			stop := a.serveOps(ctx)
			defer stop()

			summary, err := job.run(ctx)
			if err != nil {
				return err
			}
			printExportSummary(a.cfg.Paths.ExportDir, summary)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOpts.input, "input", "i", "", "JSONL corpus (overrides paths.corpus)")
	exportCmd.Flags().StringVarP(&exportOpts.output, "output", "o", "", "output directory (overrides paths.export_dir)")
}

func (o exportOptions) apply(a *app) {
	if o.input != "" {
		a.cfg.Paths.Corpus = o.input
	}
	if o.output != "" {
		a.cfg.Paths.ExportDir = o.output
	}
}

type exportJob struct {
	a       *app
	service *export.Service
	logger  *zap.Logger
}

func newExportJob(a *app) *exportJob {
	logger := a.stageLogger(domain.StageExport)
	svc := export.New(render.New(a.cfg.Export.RenderDPI), export.Options{
		DocumentsDir: a.cfg.Paths.Documents,
		OutputDir:    a.cfg.Paths.ExportDir,
	}, logger)
	return &exportJob{a: a, service: svc, logger: logger}
}

func (j *exportJob) run(ctx context.Context) (summary export.Summary, err error) {
	tracker := j.a.board.Begin(ctx, domain.StageExport)
	defer func() { tracker.Finish(ctx, err) }()

	entries, _, err := corpus.Load(j.a.cfg.Paths.Corpus, j.logger)
	if err != nil {
		return export.Summary{}, err
	}
	return j.service.Run(ctx, entries, tracker)
}
