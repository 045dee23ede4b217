package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/kailas-cloud/docbench/internal/corpus"
	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/usecase/export"
	"github.com/kailas-cloud/docbench/internal/usecase/filter"
	"github.com/kailas-cloud/docbench/internal/usecase/generate"
	"github.com/kailas-cloud/docbench/internal/usecase/rerank"
)

var (
	out = io.Writer(os.Stdout)

	title = color.New(color.FgCyan, color.Bold).SprintFunc()
	good  = color.New(color.FgGreen).SprintFunc()
	bad   = color.New(color.FgRed).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

func printGenerateSummary(path string, s generate.Summary) {
	fmt.Fprintf(out, "%s %s\n", title("generate"), faint(path))
	fmt.Fprintf(out, "  documents  %d (%s)\n", s.Documents, failed(s.DocumentsFailed))
	fmt.Fprintf(out, "  pages      %s ok, %s\n", good(s.PagesOK), failed(s.PagesFailed))
	fmt.Fprintf(out, "  duration   %s\n", s.Duration.Round(time.Millisecond))
}

func printEvaluationSummary(path string, s domain.EvaluationSummary) {
	fmt.Fprintf(out, "%s %s\n", title("evaluate"), faint(path))
	fmt.Fprintf(out, "  entries          %s ok, %s\n", good(s.SuccessfulEntries), failed(s.FailedEntries))
	fmt.Fprintf(out, "  recall position  %.2f\n", s.AverageRecallPosition)
	fmt.Fprintf(out, "  ndcg@5           %.4f\n", s.AverageNDCG)
	fmt.Fprintf(out, "  recall@1/@5      %.3f / %.3f\n", s.RecallAt1, s.RecallAt5)
	fmt.Fprintf(out, "  similarity       %.4f\n", s.AverageSimilarity)
}

func printRerankSummary(path string, s rerank.Summary) {
	fmt.Fprintf(out, "%s %s\n", title("rerank"), faint(path))
	fmt.Fprintf(out, "  queries   %d\n", s.Queries)
	fmt.Fprintf(out, "  ranked    %s\n", good(s.Ranked))
	fmt.Fprintf(out, "  skipped   %d\n", s.Skipped)
	fmt.Fprintf(out, "  duration  %s\n", s.Duration.Round(time.Millisecond))
}

func printExportSummary(dir string, s export.Summary) {
	fmt.Fprintf(out, "%s %s\n", title("export"), faint(dir))
	fmt.Fprintf(out, "  queries  %s (%d dropped without a page)\n", good(s.Queries), s.DroppedQueries)
	fmt.Fprintf(out, "  pages    %s (%d missing documents, %s)\n", good(s.Pages), s.MissingDocuments, failed(s.FailedPages))
}

func printFilterSummary(report string, s filter.Summary) {
	fmt.Fprintf(out, "%s %s\n", title("filter"), faint(report))
	fmt.Fprintf(out, "  references  %d\n", s.References)
	fmt.Fprintf(out, "  pages       %s removed of %d (%s)\n", bad(s.RemovedPages), s.Pages, failed(s.FailedPages))
	fmt.Fprintf(out, "  queries     %s kept, %d removed\n", good(s.Queries), s.RemovedQueries)
}

func printCleanSummary(path string, s corpus.Stats) {
	fmt.Fprintf(out, "%s %s\n", title("clean"), faint(path))
	fmt.Fprintf(out, "  kept     %s of %d lines\n", good(s.Kept), s.Lines)
	fmt.Fprintf(out, "  dropped  %d decode, %d failed, %d null, %d NaN\n", s.DecodeErrors, s.Failed, s.NullQueries, s.NaN)
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", bad("error:"), err)
}

func failed(n int) string {
	if n == 0 {
		return "0 failed"
	}
	return bad(fmt.Sprintf("%d failed", n))
}
