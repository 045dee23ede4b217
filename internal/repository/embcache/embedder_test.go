package embcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, ms := newTestCachedEmbedder(t, inner, 0)

	result, err := ce.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if len(ms.setKeys) != 1 {
		t.Fatal("expected SET to be called for cache put")
	}
	if !strings.HasPrefix(ms.setKeys[0], "docbench:emb_cache:vectapi:mcdse:text:") {
		t.Errorf("unexpected key %q", ms.setKeys[0])
	}
	if len(ms.ttls) != 0 {
		t.Error("ttl 0 should use plain SET")
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	ce, _ := newTestCachedEmbedder(t, inner, 0)
	ctx := context.Background()

	if _, err := ce.Embed(ctx, "q"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	result, err := ce.Embed(ctx, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.textCalls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.textCalls)
	}
	if result.TotalTokens != 0 {
		t.Errorf("cache hit should report 0 tokens, got %d", result.TotalTokens)
	}
	if result.Embedding[2] != 0.3 {
		t.Errorf("unexpected vector: %v", result.Embedding)
	}
}

func TestEmbedImage_KeyedByBytes(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0}}}
	ce, ms := newTestCachedEmbedder(t, inner, time.Hour)
	ctx := context.Background()

	for _, img := range [][]byte{[]byte("page-a"), []byte("page-a"), []byte("page-b")} {
		if _, err := ce.EmbedImage(ctx, img); err != nil {
			t.Fatalf("EmbedImage: %v", err)
		}
	}
	if inner.imageCalls != 2 {
		t.Errorf("expected 2 inner calls for 2 distinct images, got %d", inner.imageCalls)
	}
	for key, ttl := range ms.ttls {
		if !strings.Contains(key, ":image:") || ttl != time.Hour {
			t.Errorf("unexpected cache entry %q ttl %v", key, ttl)
		}
	}
	// Text and image keys for equal payloads must not collide.
	if ce.cacheKey("text", []byte("x")) == ce.cacheKey("image", []byte("x")) {
		t.Error("text and image keys collide")
	}
}

func TestEmbedImage_ConcurrentMissesShareOneCall(t *testing.T) {
	inner := &gatedEmbedder{release: make(chan struct{})}
	ce := New(inner, newMockKVStore(), "vectapi:mcdse", 0, nil, zap.NewNop())
	page := []byte("same rendered page")

	const workers = 4
	results := make(chan domain.EmbeddingResult, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ce.EmbedImage(context.Background(), page)
			if err != nil {
				t.Errorf("EmbedImage: %v", err)
			}
			results <- res
		}()
	}

	// Let the first call reach the provider before the others arrive.
	for inner.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()
	close(results)

	if n := inner.calls.Load(); n != 1 {
		t.Errorf("expected one provider call, got %d", n)
	}
	var billed int
	for res := range results {
		if len(res.Embedding) != 2 {
			t.Errorf("unexpected vector %v", res.Embedding)
		}
		billed += res.TotalTokens
	}
	if billed != 12 {
		t.Errorf("tokens must be reported once, got %d", billed)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbedding}
	ce, ms := newTestCachedEmbedder(t, inner, 0)

	_, err := ce.EmbedImage(context.Background(), []byte("img"))
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if len(ms.setKeys) != 0 {
		t.Error("failures must not be cached")
	}
}

func TestEmbed_StoreErrorsDegradeToMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5}}}
	ce, ms := newTestCachedEmbedder(t, inner, 0)
	ms.getErr = errors.New("connection reset")
	ms.setErr = errors.New("connection reset")

	result, err := ce.Embed(context.Background(), "q")
	if err != nil {
		t.Fatalf("store errors should not fail the embedding: %v", err)
	}
	if result.Embedding[0] != 0.5 {
		t.Errorf("unexpected vector: %v", result.Embedding)
	}
}

func TestEmbed_CorruptEntry(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5}}}
	ce, ms := newTestCachedEmbedder(t, inner, 0)
	ms.data[ce.cacheKey("text", []byte("q"))] = []byte{1, 2, 3}

	if _, err := ce.Embed(context.Background(), "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.textCalls != 1 {
		t.Error("corrupt entry should fall through to the provider")
	}
}

func TestCacheCounter(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5}}}
	ce := New(inner, newMockKVStore(), "ns", 0, counter, zap.NewNop())

	ctx := context.Background()
	_, _ = ce.Embed(ctx, "q")
	_, _ = ce.Embed(ctx, "q")

	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 1 {
		t.Errorf("hits = %v", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v", got)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{-1.5, 0, 3.25}
	out, err := bytesToVector(vectorToCacheBytes(in))
	if err != nil {
		t.Fatalf("bytesToVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}
