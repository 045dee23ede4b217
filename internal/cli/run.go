package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type runOptions struct {
	skipRerank bool
	skipExport bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pipeline stage in sequence",
	Long: `Run generate, evaluate, rerank and export in sequence.
When filter.references is set, the exported dataset is filtered last.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			gen, err := newGenerateJob(ctx, a)
			if err != nil {
				return err
			}
			eval := newEvaluateJob(ctx, a)
			var rr *rerankJob
			if !runOpts.skipRerank {
				if rr, err = newRerankJob(ctx, a); err != nil {
					return err
				}
			}
			var fj *filterJob
			if !runOpts.skipExport && a.cfg.Filter.References != "" {
				if fj, err = newFilterJob(ctx, a); err != nil {
					return err
				}
			}

			// Every provider is built, so the health endpoint sees all of them.
			stop := a.serveOps(ctx)
			defer stop()

			gs, err := gen.run(ctx)
			printGenerateSummary(a.cfg.Paths.Corpus, gs)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			es, err := eval.run(ctx)
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}
			printEvaluationSummary(a.cfg.Paths.Evaluation, es)

			if rr != nil {
				rs, err := rr.run(ctx)
				printRerankSummary(a.cfg.Paths.Ranked, rs)
				if err != nil {
					return fmt.Errorf("rerank: %w", err)
				}
			}

			if !runOpts.skipExport {
				xs, err := newExportJob(a).run(ctx)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				printExportSummary(a.cfg.Paths.ExportDir, xs)
			}

			if fj != nil {
				fs, err := fj.run(ctx)
				if err != nil {
					return fmt.Errorf("filter: %w", err)
				}
				printFilterSummary(fj.report.Path(), fs)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runOpts.skipRerank, "skip-rerank", false, "stop after evaluation")
	runCmd.Flags().BoolVar(&runOpts.skipExport, "skip-export", false, "do not write parquet files")
}
