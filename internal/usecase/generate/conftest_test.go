package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/ratelimit"
	"github.com/kailas-cloud/docbench/internal/retry"
)

// --- Rasterizer fake ---

type fakeRasterizer struct {
	pages     map[string]int // document path -> page count
	openErr   map[string]error
	renderErr map[string]error // "<path>/page-<n>"
}

func (f *fakeRasterizer) Open(path string) (domain.PageSource, error) {
	if err := f.openErr[path]; err != nil {
		return nil, err
	}
	n, ok := f.pages[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	return &fakeSource{path: path, n: n, renderErr: f.renderErr}, nil
}

type fakeSource struct {
	path      string
	n         int
	renderErr map[string]error
}

func (s *fakeSource) NumPages() int { return s.n }

func (s *fakeSource) RenderPage(page int) ([]byte, error) {
	key := fmt.Sprintf("%s/page-%d", s.path, page)
	if err := s.renderErr[key]; err != nil {
		return nil, err
	}
	if page < 0 || page >= s.n {
		return nil, domain.ErrRender
	}
	return []byte(key), nil
}

func (s *fakeSource) Close() error { return nil }

// --- Generator fake ---

type event struct {
	page  int
	start bool
}

type fakeGenerator struct {
	mu     sync.Mutex
	fail   map[int]error // page -> error
	calls  map[int]int
	events []event
	delay  time.Duration
	ctxImg string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{fail: map[int]error{}, calls: map[int]int{}}
}

func (g *fakeGenerator) Generate(_ context.Context, req domain.GenerateRequest) (domain.QueryBundle, domain.Usage, error) {
	page := pageOf(string(req.PageImage))

	g.mu.Lock()
	g.calls[page]++
	g.events = append(g.events, event{page: page, start: true})
	g.ctxImg = string(req.ContextImage)
	err := g.fail[page]
	g.mu.Unlock()

	time.Sleep(g.delay)

	g.mu.Lock()
	g.events = append(g.events, event{page: page})
	g.mu.Unlock()

	if err != nil {
		return domain.QueryBundle{}, domain.Usage{}, err
	}
	b, err := domain.NewQueryBundle(req.Language, fmt.Sprintf("main %d", page), fmt.Sprintf("secondary %d", page), "", "")
	return b, domain.Usage{TotalTokens: 10}, err
}

func pageOf(image string) int {
	var page int
	i := strings.LastIndex(image, "page-")
	fmt.Sscanf(image[i:], "page-%d", &page)
	return page
}

type singlePool struct{ g domain.QueryGenerator }

func (p singlePool) Get() domain.QueryGenerator { return p.g }

// --- Sink fake ---

type memSink struct {
	mu      sync.Mutex
	results []domain.PageResult
	err     error
}

func (s *memSink) Write(record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, record.(domain.PageResult))
	return nil
}

func (s *memSink) byPage() map[int]domain.PageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]domain.PageResult, len(s.results))
	for _, r := range s.results {
		out[r.PageNumber] = r
	}
	return out
}

var errTransient = errors.New("upstream 503")

func newTestScheduler(t *testing.T, raster domain.Rasterizer, gen domain.QueryGenerator, sink Sink, opts Options) *Scheduler {
	t.Helper()
	lim, err := ratelimit.New(10000)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	rt := retry.New(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, zap.NewNop())
	return New(raster, singlePool{g: gen}, lim, rt, sink, opts, zap.NewNop())
}
