package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/sink"
)

const fixture = `{"document":"a.pdf","page_number":1,"language":"EN","queries":{"main_query":"m1","secondary_query":"s1","multimodal_query":"mm1"},"error":null,"timestamp":"2026-01-01T00:00:00Z"}
{"document":"a.pdf","page_number":2,"queries":null,"error":"generation failed","timestamp":"2026-01-01T00:00:00Z"}
not json at all
{"document":"b.pdf","page_number":3,"queries":{"main_query":"NaN","secondary_query":"s"},"error":null}

{"document":"b.pdf","page_number":4,"queries":null,"error":null}
{"document":"b.pdf","page_number":5,"queries":{"language":"FR","main_query":"m5","secondary_query":"s5"},"error":null}
`

func TestRead_FiltersUnusableLines(t *testing.T) {
	entries, stats, err := Read(strings.NewReader(fixture), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Document != "a.pdf" || entries[0].PageNumber != 1 {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[0].Queries.Multimodal != "mm1" {
		t.Errorf("multimodal = %q", entries[0].Queries.Multimodal)
	}
	// Language falls back to the bundle's tag.
	if entries[1].Language != domain.LanguageFR {
		t.Errorf("language = %q", entries[1].Language)
	}

	want := Stats{Lines: 6, DecodeErrors: 1, Failed: 1, NullQueries: 1, NaN: 1, Kept: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "none.jsonl"), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSample(t *testing.T) {
	entries := make([]domain.PageResult, 20)
	for i := range entries {
		entries[i] = domain.PageResult{Document: "d.pdf", PageNumber: i}
	}

	got := Sample(entries, 5, 42)
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
	seen := map[int]bool{}
	for _, e := range got {
		if seen[e.PageNumber] {
			t.Fatalf("page %d sampled twice", e.PageNumber)
		}
		seen[e.PageNumber] = true
	}

	again := Sample(entries, 5, 42)
	for i := range got {
		if got[i].PageNumber != again[i].PageNumber {
			t.Fatal("same seed should give the same sample")
		}
	}

	if all := Sample(entries, 100, 1); len(all) != 20 {
		t.Errorf("oversized sample should return all, got %d", len(all))
	}
	if all := Sample(entries, 0, 1); len(all) != 20 {
		t.Errorf("zero sample size should return all, got %d", len(all))
	}
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.jsonl")
	if err := os.WriteFile(in, []byte(fixture), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := filepath.Join(dir, "clean.jsonl")
	w, err := sink.OpenJSONL(out)
	if err != nil {
		t.Fatalf("OpenJSONL: %v", err)
	}

	stats, err := Clean(in, w, nil)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	_ = w.Close()
	if stats.Kept != 2 {
		t.Errorf("kept = %d", stats.Kept)
	}

	cleaned, cstats, err := Load(out, nil)
	if err != nil {
		t.Fatalf("Load cleaned: %v", err)
	}
	if len(cleaned) != 2 || cstats.Lines != 2 {
		t.Errorf("cleaned corpus has %d entries over %d lines", len(cleaned), cstats.Lines)
	}
}
