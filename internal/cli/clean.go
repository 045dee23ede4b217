package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/corpus"
	"github.com/kailas-cloud/docbench/internal/sink"
)

type cleanOptions struct {
	input  string
	output string
}

var cleanOpts cleanOptions

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Copy the usable entries of a corpus into a new JSONL file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			in := a.cfg.Paths.Corpus
			if cleanOpts.input != "" {
				in = cleanOpts.input
			}
			out := cleanOpts.output
			if out == "" {
				out = cleanedPath(in)
			}
			if filepath.Clean(in) == filepath.Clean(out) {
				return fmt.Errorf("clean: input and output are the same file %s", in)
			}

			stats, err := cleanCorpus(in, out, a.logger)
			if err != nil {
				return err
			}
			printCleanSummary(out, stats)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringVarP(&cleanOpts.input, "input", "i", "", "JSONL corpus (overrides paths.corpus)")
	cleanCmd.Flags().StringVarP(&cleanOpts.output, "output", "o", "", "cleaned output (default: <input>_cleaned.jsonl)")
}

func cleanCorpus(in, out string, logger *zap.Logger) (stats corpus.Stats, err error) {
	w, err := sink.OpenJSONL(out)
	if err != nil {
		return corpus.Stats{}, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return corpus.Clean(in, w, logger)
}

func cleanedPath(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_cleaned" + ext
}
