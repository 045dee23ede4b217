package rerank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/sink"
)

// --- Mocks ---

type fakeRenderer struct {
	calls []string
	fail  map[string]bool
}

func (r *fakeRenderer) RenderPage(path string, page int) ([]byte, error) {
	key := fmt.Sprintf("%s#%d", filepath.Base(path), page)
	r.calls = append(r.calls, key)
	if r.fail[key] {
		return nil, domain.ErrRender
	}
	return []byte(key), nil
}

type fakeRanker struct {
	// respond builds rankings from the candidates it received.
	respond func(query string, pages []domain.CandidatePage) ([]domain.Ranking, error)
	seen    [][]domain.CandidatePage
}

func (r *fakeRanker) Rank(_ context.Context, query string, pages []domain.CandidatePage) ([]domain.Ranking, domain.Usage, error) {
	r.seen = append(r.seen, pages)
	rankings, err := r.respond(query, pages)
	return rankings, domain.Usage{}, err
}

// reverseRanker ranks the last candidate highest.
func reverseRanker() *fakeRanker {
	return &fakeRanker{respond: func(_ string, pages []domain.CandidatePage) ([]domain.Ranking, error) {
		out := make([]domain.Ranking, 0, len(pages))
		for _, p := range pages {
			out = append(out, domain.Ranking{PageIndex: p.Index, Score: float64(p.Index)})
		}
		return out, nil
	}}
}

// recordingSaver keeps the length of every saved snapshot. With err set it
// fails once failAfter saves have succeeded.
type recordingSaver struct {
	lengths   []int
	err       error
	failAfter int
}

func (s *recordingSaver) Save(v any) error {
	if s.err != nil && len(s.lengths) >= s.failAfter {
		return s.err
	}
	s.lengths = append(s.lengths, len(v.([]domain.RankedQuery)))
	return nil
}

func eval(query string, matches ...domain.Match) domain.QueryEvaluation {
	return domain.QueryEvaluation{Query: query, TopMatches: matches}
}

func match(doc string, page int) domain.Match {
	return domain.Match{Document: doc, PageNumber: page}
}

func newTestService(ranker domain.PageRanker, r PageRenderer, missing ...string) *Service {
	s := New(ranker, r, Options{DocumentsDir: "docs"}, zap.NewNop())
	s.exists = func(path string) bool {
		for _, m := range missing {
			if filepath.Base(path) == m {
				return false
			}
		}
		return true
	}
	return s
}

// --- Tests ---

func TestRun_SavesAfterEveryQuery(t *testing.T) {
	evals := []domain.QueryEvaluation{
		eval("q1", match("a.pdf", 1), match("a.pdf", 2)),
		eval("q2", match("b.pdf", 3)),
		eval("q3", match("a.pdf", 2), match("b.pdf", 3), match("c.pdf", 4)),
	}
	saver := &recordingSaver{}

	summary, err := newTestService(reverseRanker(), &fakeRenderer{}).Run(context.Background(), evals, saver, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Ranked != 3 || summary.Skipped != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(saver.lengths) != 4 || saver.lengths[0] != 0 || saver.lengths[1] != 1 || saver.lengths[3] != 3 {
		t.Errorf("expected cumulative saves 0,1,2,3, got %v", saver.lengths)
	}
}

func TestRun_SkipsUnusableQueries(t *testing.T) {
	evals := []domain.QueryEvaluation{
		eval("empty-doc", match("", 1)),
		eval("missing-file", match("gone.pdf", 1)),
		eval("render-fails", match("a.pdf", 9)),
		eval("ok", match("a.pdf", 1)),
	}
	r := &fakeRenderer{fail: map[string]bool{"a.pdf#9": true}}
	ranker := reverseRanker()
	saver := &recordingSaver{}

	summary, err := newTestService(ranker, r, "gone.pdf").Run(context.Background(), evals, saver, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 3 || summary.Ranked != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(ranker.seen) != 1 {
		t.Errorf("ranker must only see the usable query, got %d calls", len(ranker.seen))
	}
	if len(saver.lengths) != 2 {
		t.Errorf("skipped queries must not trigger a save, got %v", saver.lengths)
	}
}

func TestRun_RankerFailureSkipsWithoutRetry(t *testing.T) {
	ranker := &fakeRanker{respond: func(string, []domain.CandidatePage) ([]domain.Ranking, error) {
		return nil, domain.ErrRanking
	}}
	evals := []domain.QueryEvaluation{eval("q", match("a.pdf", 1))}

	summary, err := newTestService(ranker, &fakeRenderer{}).Run(context.Background(), evals, &recordingSaver{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 || len(ranker.seen) != 1 {
		t.Errorf("expected one attempt then skip, got summary %+v calls %d", summary, len(ranker.seen))
	}
}

func TestRun_OutOfRangeOnlyIsSkipped(t *testing.T) {
	ranker := &fakeRanker{respond: func(string, []domain.CandidatePage) ([]domain.Ranking, error) {
		return []domain.Ranking{{PageIndex: 7, Score: 1}}, nil
	}}
	evals := []domain.QueryEvaluation{eval("q", match("a.pdf", 1))}

	summary, err := newTestService(ranker, &fakeRenderer{}).Run(context.Background(), evals, &recordingSaver{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestRun_CandidatesRenderedOnceAndCapped(t *testing.T) {
	var matches []domain.Match
	for p := range 20 {
		matches = append(matches, match("a.pdf", p))
	}
	matches = append([]domain.Match{match("a.pdf", 0)}, matches...) // duplicate first page

	r := &fakeRenderer{}
	ranker := reverseRanker()
	_, err := newTestService(ranker, r).Run(context.Background(), []domain.QueryEvaluation{eval("q", matches...)}, &recordingSaver{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ranker.seen[0]) != domain.TopK-1 {
		t.Errorf("expected %d unique candidates out of the top %d, got %d",
			domain.TopK-1, domain.TopK, len(ranker.seen[0]))
	}
	for i, c := range ranker.seen[0] {
		if c.Index != i {
			t.Errorf("candidate %d has index %d", i, c.Index)
		}
	}
	if len(r.calls) != len(ranker.seen[0]) {
		t.Errorf("each candidate must be rendered once, got %d renders", len(r.calls))
	}
}

func TestRun_SaveFailureStops(t *testing.T) {
	evals := []domain.QueryEvaluation{eval("q1", match("a.pdf", 1)), eval("q2", match("a.pdf", 2))}
	saver := &recordingSaver{err: errors.New("read-only fs"), failAfter: 1}
	ranker := reverseRanker()

	if _, err := newTestService(ranker, &fakeRenderer{}).Run(context.Background(), evals, saver, nil); err == nil {
		t.Fatal("expected save error")
	}
	if len(ranker.seen) != 1 {
		t.Errorf("run must stop after the failed save, ranker called %d times", len(ranker.seen))
	}
}

func TestRun_InitialSaveFailureStopsBeforeRanking(t *testing.T) {
	saver := &recordingSaver{err: errors.New("read-only fs")}
	ranker := reverseRanker()

	_, err := newTestService(ranker, &fakeRenderer{}).Run(context.Background(), []domain.QueryEvaluation{eval("q", match("a.pdf", 1))}, saver, nil)
	if err == nil {
		t.Fatal("expected save error")
	}
	if len(ranker.seen) != 0 {
		t.Errorf("ranker must not be called, got %d calls", len(ranker.seen))
	}
}

func TestRun_AllSkippedOverwritesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranked.json")
	stale := `[{"query":"old","ranked_documents":[]}]`
	if err := os.WriteFile(path, []byte(stale), 0o600); err != nil {
		t.Fatal(err)
	}
	evals := []domain.QueryEvaluation{eval("empty-doc", match("", 1))}

	summary, err := newTestService(reverseRanker(), &fakeRenderer{}).Run(context.Background(), evals, sink.NewSnapshot(path), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	var got []domain.RankedQuery
	if err := sink.NewSnapshot(path).Load(&got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected an empty list, got %+v", got)
	}
}

func TestRun_WritesRankedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranked.json")
	evals := []domain.QueryEvaluation{eval("q", match("a.pdf", 1), match("a.pdf", 2))}

	if _, err := newTestService(reverseRanker(), &fakeRenderer{}).Run(context.Background(), evals, sink.NewSnapshot(path), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []domain.RankedQuery
	if err := sink.NewSnapshot(path).Load(&got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].RankedDocuments[0].Page != 2 || got[0].RankedDocuments[0].Rank != 1 {
		t.Errorf("unexpected ranked file %+v", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file must not remain")
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestService(reverseRanker(), &fakeRenderer{}).Run(ctx, []domain.QueryEvaluation{eval("q")}, &recordingSaver{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
