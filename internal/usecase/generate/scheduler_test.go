package generate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/sink"
	"github.com/kailas-cloud/docbench/internal/usecase/progress"
)

func TestRun_OneLinePerPageWithFailureCaptured(t *testing.T) {
	raster := &fakeRasterizer{pages: map[string]int{"docs/a.pdf": 6}}
	gen := newFakeGenerator()
	gen.fail[3] = errTransient

	out := filepath.Join(t.TempDir(), "queries.jsonl")
	js, err := sink.OpenJSONL(out)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}

	s := newTestScheduler(t, raster, gen, js, Options{})
	summary, err := s.Run(context.Background(), []string{"docs/a.pdf"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := js.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines, failed int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r domain.PageResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("malformed line %q: %v", sc.Text(), err)
		}
		lines++
		if !r.OK() {
			failed++
			if r.PageNumber != 3 || r.Error == nil || r.Queries != nil {
				t.Errorf("unexpected failure record: %+v", r)
			}
		}
	}
	if lines != 5 || failed != 1 {
		t.Errorf("expected 5 lines with 1 error, got %d lines, %d errors", lines, failed)
	}
	if summary.Pages != 5 || summary.PagesOK != 4 || summary.PagesFailed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if gen.calls[3] != 2 {
		t.Errorf("failing page should be attempted twice, got %d", gen.calls[3])
	}
}

func TestRun_ContextImageAndLanguages(t *testing.T) {
	raster := &fakeRasterizer{pages: map[string]int{"a.pdf": 4}}
	gen := newFakeGenerator()
	ms := &memSink{}

	s := newTestScheduler(t, raster, gen, ms, Options{
		Languages: []domain.Language{domain.LanguageEN, domain.LanguageFR},
	})
	if _, err := s.Run(context.Background(), []string{"a.pdf"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gen.ctxImg != "a.pdf/page-0" {
		t.Errorf("context image = %q", gen.ctxImg)
	}
	if _, ok := gen.calls[0]; ok {
		t.Error("context page must not be a task")
	}
	got := ms.byPage()
	want := map[int]domain.Language{1: domain.LanguageFR, 2: domain.LanguageEN, 3: domain.LanguageFR}
	for page, lang := range want {
		if got[page].Language != lang || got[page].Queries.Language != lang {
			t.Errorf("page %d: language %q, want %q", page, got[page].Language, lang)
		}
	}
}

func TestRun_ChunkBarrier(t *testing.T) {
	raster := &fakeRasterizer{pages: map[string]int{"a.pdf": 8}}
	gen := newFakeGenerator()
	gen.delay = 5 * time.Millisecond

	s := newTestScheduler(t, raster, gen, &memSink{}, Options{ChunkSize: 3})
	if _, err := s.Run(context.Background(), []string{"a.pdf"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Pages 1-3, 4-6, 7: every start of chunk k must follow every end of chunk k-1.
	chunkOf := func(page int) int { return (page - 1) / 3 }
	lastEnd := map[int]int{}
	firstStart := map[int]int{}
	for i, e := range gen.events {
		c := chunkOf(e.page)
		if e.start {
			if _, ok := firstStart[c]; !ok {
				firstStart[c] = i
			}
		} else {
			lastEnd[c] = i
		}
	}
	for c := 1; c <= 2; c++ {
		if firstStart[c] < lastEnd[c-1] {
			t.Errorf("chunk %d started at event %d before chunk %d finished at %d",
				c, firstStart[c], c-1, lastEnd[c-1])
		}
	}
}

func TestRun_DocumentFailureWritesSingleRecord(t *testing.T) {
	raster := &fakeRasterizer{
		pages:   map[string]int{"good.pdf": 3},
		openErr: map[string]error{"bad.pdf": domain.ErrRender},
	}
	ms := &memSink{}
	tracker := progress.NewBoard("r", nil, nil).Begin(context.Background(), domain.StageGenerate)

	s := newTestScheduler(t, raster, newFakeGenerator(), ms, Options{})
	summary, err := s.Run(context.Background(), []string{"bad.pdf", "good.pdf"}, tracker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var bad []domain.PageResult
	for _, r := range ms.results {
		if r.Document == "bad.pdf" {
			bad = append(bad, r)
		}
	}
	if len(bad) != 1 || bad[0].PageNumber != 0 || bad[0].Error == nil {
		t.Fatalf("expected one page-0 error record, got %+v", bad)
	}
	if summary.DocumentsFailed != 1 || summary.PagesOK != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if tracker.Count(domain.CounterDocumentsFailed) != 1 || tracker.Count(domain.CounterPagesOK) != 2 {
		t.Errorf("unexpected progress: %+v", tracker.Snapshot().Counters)
	}
}

func TestRun_RenderFailureIsPageScoped(t *testing.T) {
	raster := &fakeRasterizer{
		pages:     map[string]int{"a.pdf": 4},
		renderErr: map[string]error{"a.pdf/page-2": domain.ErrRender},
	}
	ms := &memSink{}
	gen := newFakeGenerator()

	s := newTestScheduler(t, raster, gen, ms, Options{})
	if _, err := s.Run(context.Background(), []string{"a.pdf"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := ms.byPage()
	if len(got) != 3 || got[2].OK() {
		t.Fatalf("expected page 2 failed among 3 results, got %+v", got)
	}
	if msg := *got[2].Error; !strings.HasPrefix(msg, "a.pdf page 2: render page:") {
		t.Errorf("failure must name its page, got %q", msg)
	}
	if gen.calls[2] != 0 {
		t.Error("generator must not be called for an unrenderable page")
	}
}

func TestRun_QuotaExceededNotRetried(t *testing.T) {
	raster := &fakeRasterizer{pages: map[string]int{"a.pdf": 2}}
	gen := newFakeGenerator()
	gen.fail[1] = domain.ErrQuotaExceeded

	ms := &memSink{}
	s := newTestScheduler(t, raster, gen, ms, Options{})
	if _, err := s.Run(context.Background(), []string{"a.pdf"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls[1] != 1 {
		t.Errorf("expected a single attempt, got %d", gen.calls[1])
	}
}

func TestRun_SinkFailureAbortsRun(t *testing.T) {
	raster := &fakeRasterizer{pages: map[string]int{"a.pdf": 3}}
	ms := &memSink{err: errors.New("disk full")}

	s := newTestScheduler(t, raster, newFakeGenerator(), ms, Options{})
	_, err := s.Run(context.Background(), []string{"a.pdf"}, nil)
	if err == nil {
		t.Fatal("expected sink error")
	}
}

func TestRun_PageSamplingIsStable(t *testing.T) {
	raster := &fakeRasterizer{pages: map[string]int{"a.pdf": 20}}
	opts := Options{PagesPerDocument: 4, Seed: 7}

	pick := func() []int {
		ms := &memSink{}
		s := newTestScheduler(t, raster, newFakeGenerator(), ms, opts)
		if _, err := s.Run(context.Background(), []string{"a.pdf"}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var pages []int
		for p := range ms.byPage() {
			pages = append(pages, p)
		}
		return pages
	}

	first, second := pick(), pick()
	if len(first) != 4 {
		t.Fatalf("expected 4 sampled pages, got %v", first)
	}
	seen := map[int]bool{}
	for _, p := range first {
		if p == 0 {
			t.Error("context page must never be sampled")
		}
		seen[p] = true
	}
	for _, p := range second {
		if !seen[p] {
			t.Errorf("sampling not stable: %v vs %v", first, second)
			break
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	raster := &fakeRasterizer{pages: map[string]int{"a.pdf": 3}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScheduler(t, raster, newFakeGenerator(), &memSink{}, Options{})
	_, err := s.Run(ctx, []string{"a.pdf"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestListDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PDF", "a.pdf", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o750); err != nil {
		t.Fatal(err)
	}

	docs, err := ListDocuments(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 || filepath.Base(docs[0]) != "a.pdf" || filepath.Base(docs[1]) != "b.PDF" {
		t.Errorf("unexpected documents: %v", docs)
	}

	if _, err := ListDocuments(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing folder")
	}
}
