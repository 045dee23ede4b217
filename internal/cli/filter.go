package cli

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/sink"
	"github.com/kailas-cloud/docbench/internal/usecase/filter"
)

// filterReportFile lists the pages removed by the filter.
const filterReportFile = "filter_report.json"

var errNoReferenceDir = errors.New("filter.references is not set")

type filterOptions struct {
	references string
	input      string
	output     string
	threshold  float64
}

var filterOpts filterOptions

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Remove exported pages that match reference images",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			filterOpts.apply(a)
			job, err := newFilterJob(ctx, a)
			if err != nil {
				return err
			}
			stop := a.serveOps(ctx)
			defer stop()

			summary, err := job.run(ctx)
			if err != nil {
				return err
			}
			printFilterSummary(job.report.Path(), summary)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(filterCmd)

	filterCmd.Flags().StringVarP(&filterOpts.references, "references", "r", "", "reference image folder (overrides filter.references)")
	filterCmd.Flags().StringVarP(&filterOpts.input, "input", "i", "", "exported dataset folder (overrides paths.export_dir)")
	filterCmd.Flags().StringVarP(&filterOpts.output, "output", "o", "", "filtered dataset folder (overrides filter.output_dir)")
	filterCmd.Flags().Float64Var(&filterOpts.threshold, "threshold", 0, "similarity at or above which a page is removed")
}

func (o filterOptions) apply(a *app) {
	if o.references != "" {
		a.cfg.Filter.References = o.references
	}
	if o.input != "" {
		if a.cfg.Filter.OutputDir == a.cfg.Paths.ExportDir {
			a.cfg.Filter.OutputDir = o.input
		}
		a.cfg.Paths.ExportDir = o.input
	}
	if o.output != "" {
		a.cfg.Filter.OutputDir = o.output
	}
	if o.threshold > 0 {
		a.cfg.Filter.Threshold = o.threshold
	}
}

type filterJob struct {
	a       *app
	service *filter.Service
	report  *sink.Snapshot
	logger  *zap.Logger
}

func newFilterJob(ctx context.Context, a *app) (*filterJob, error) {
	fc := a.cfg.Filter
	if fc.References == "" {
		return nil, errNoReferenceDir
	}
	logger := a.stageLogger(domain.StageFilter)
	svc := filter.New(a.embedder(ctx, logger), filter.Options{
		ReferencesDir: fc.References,
		InputDir:      a.cfg.Paths.ExportDir,
		OutputDir:     fc.OutputDir,
		Threshold:     fc.Threshold,
		Workers:       fc.Workers,
	}, logger)
	report := sink.NewSnapshot(filepath.Join(fc.OutputDir, filterReportFile))
	return &filterJob{a: a, service: svc, report: report, logger: logger}, nil
}

func (j *filterJob) run(ctx context.Context) (summary filter.Summary, err error) {
	ctx = domain.WithStage(ctx, domain.StageFilter)
	tracker := j.a.board.Begin(ctx, domain.StageFilter)
	defer func() { tracker.Finish(ctx, err) }()

	j.logger.Info("Filtering dataset",
		zap.String("references", j.a.cfg.Filter.References),
		zap.String("input", j.a.cfg.Paths.ExportDir),
	)
	return j.service.Run(ctx, j.report, tracker)
}
