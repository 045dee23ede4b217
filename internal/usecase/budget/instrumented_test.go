package budget

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type mockGenerator struct {
	bundle domain.QueryBundle
	usage  domain.Usage
	err    error
	calls  int
}

func (m *mockGenerator) Generate(_ context.Context, _ domain.GenerateRequest) (domain.QueryBundle, domain.Usage, error) {
	m.calls++
	return m.bundle, m.usage, m.err
}

type mockRanker struct {
	rankings []domain.Ranking
	usage    domain.Usage
	err      error
}

func (m *mockRanker) Rank(_ context.Context, _ string, _ []domain.CandidatePage) ([]domain.Ranking, domain.Usage, error) {
	return m.rankings, m.usage, m.err
}

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return m.result, m.err
}

func (m *mockEmbedder) EmbedImage(_ context.Context, _ []byte) (domain.EmbeddingResult, error) {
	return m.result, m.err
}

func TestInstrumentedGenerator_RecordsUsage(t *testing.T) {
	tracker := NewTracker("gen", 1000, 0, ActionReject, zap.NewNop())
	inner := &mockGenerator{
		bundle: domain.QueryBundle{Main: "a", Secondary: "b"},
		usage:  domain.Usage{PromptTokens: 300, CompletionTokens: 50, TotalTokens: 350},
	}
	g := NewInstrumentedGenerator(inner, "gemini-flash", tracker, zap.NewNop())

	bundle, usage, err := g.Generate(context.Background(), domain.GenerateRequest{Language: domain.LanguageEN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Main != "a" || usage.TotalTokens != 350 {
		t.Errorf("unexpected result %+v %+v", bundle, usage)
	}
	if tracker.Snapshot().DailyUsed != 350 {
		t.Errorf("expected 350 tokens recorded, got %d", tracker.Snapshot().DailyUsed)
	}
}

func TestInstrumentedGenerator_BudgetRejection(t *testing.T) {
	tracker := NewTracker("gen", 100, 0, ActionReject, zap.NewNop())
	tracker.Record(context.Background(), 100)
	inner := &mockGenerator{}
	g := NewInstrumentedGenerator(inner, "m", tracker, zap.NewNop())

	_, _, err := g.Generate(context.Background(), domain.GenerateRequest{})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if inner.calls != 0 {
		t.Error("provider must not be called once the budget is exhausted")
	}
}

func TestInstrumentedGenerator_FailureStillCountsTokens(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tracker := NewTracker("gen", 0, 0, ActionWarn, zap.NewNop())
	inner := &mockGenerator{err: domain.ErrGeneration, usage: domain.Usage{TotalTokens: 40}}
	g := NewInstrumentedGenerator(inner, "m", tracker, zap.New(core))

	_, _, err := g.Generate(context.Background(), domain.GenerateRequest{Language: domain.LanguageIT})
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if tracker.Snapshot().DailyUsed != 40 {
		t.Errorf("expected 40 tokens recorded, got %d", tracker.Snapshot().DailyUsed)
	}
	if logs.Len() != 1 || logs.All()[0].ContextMap()["language"] != "IT" {
		t.Errorf("expected one warning with language field, got %v", logs.All())
	}
}

func TestInstrumentedGenerator_NilBudget(t *testing.T) {
	g := NewInstrumentedGenerator(&mockGenerator{usage: domain.Usage{TotalTokens: 5}}, "m", nil, zap.NewNop())
	if _, _, err := g.Generate(context.Background(), domain.GenerateRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInstrumentedRanker(t *testing.T) {
	tracker := NewTracker("rank", 0, 0, ActionWarn, zap.NewNop())
	inner := &mockRanker{
		rankings: []domain.Ranking{{PageIndex: 1, Score: 0.8}},
		usage:    domain.Usage{TotalTokens: 900},
	}
	r := NewInstrumentedRanker(inner, "m", tracker, zap.NewNop())

	ctx := domain.WithStage(context.Background(), domain.StageRerank)
	rankings, _, err := r.Rank(ctx, "q", make([]domain.CandidatePage, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rankings) != 1 || tracker.Snapshot().DailyUsed != 900 {
		t.Errorf("rankings=%v used=%d", rankings, tracker.Snapshot().DailyUsed)
	}
	if got := tracker.Snapshot().Stages["rerank"]; got != 900 {
		t.Errorf("expected 900 tokens charged to rerank, got %d", got)
	}

	inner.err = domain.ErrRanking
	if _, _, err := r.Rank(context.Background(), "q", nil); !errors.Is(err, domain.ErrRanking) {
		t.Errorf("expected ErrRanking, got %v", err)
	}
}

func TestInstrumentedEmbedder(t *testing.T) {
	tracker := NewTracker("emb", 0, 0, ActionWarn, zap.NewNop())
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 2}, TotalTokens: 7}}
	e := NewInstrumentedEmbedder(inner, "vectapi", tracker, zap.NewNop())

	if _, err := e.Embed(context.Background(), "q"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	res, err := e.EmbedImage(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if len(res.Embedding) != 2 || tracker.Snapshot().DailyUsed != 14 {
		t.Errorf("embedding=%v used=%d", res.Embedding, tracker.Snapshot().DailyUsed)
	}

	inner.err = domain.ErrEmbedding
	if _, err := e.EmbedImage(context.Background(), nil); !errors.Is(err, domain.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
}
