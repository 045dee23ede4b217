// Package corpus reads generated page results back for evaluation and export.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 4 * 1024 * 1024

// Stats counts what happened to each line during a load.
type Stats struct {
	Lines        int `json:"lines"`
	DecodeErrors int `json:"decode_errors"`
	Failed       int `json:"failed"`       // error field set
	NullQueries  int `json:"null_queries"` // no error but no queries either
	NaN          int `json:"nan"`
	Kept         int `json:"kept"`
}

// Load reads a JSONL corpus and keeps only usable entries: decodable,
// without error, with non-null queries that carry no NaN placeholder.
// Dropped lines are counted, never repaired.
func Load(path string, logger *zap.Logger) ([]domain.PageResult, Stats, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer f.Close()

	return Read(f, logger)
}

// Read is Load over an arbitrary reader.
func Read(r io.Reader, logger *zap.Logger) ([]domain.PageResult, Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		out   []domain.PageResult
		stats Stats
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		var rec domain.PageResult
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.DecodeErrors++
			logger.Debug("Skipping undecodable corpus line", zap.Int("line", stats.Lines), zap.Error(err))
			continue
		}
		switch {
		case rec.Error != nil:
			stats.Failed++
			continue
		case rec.Queries == nil:
			stats.NullQueries++
			continue
		case rec.Queries.HasNaN():
			stats.NaN++
			continue
		}
		if rec.Language == "" {
			rec.Language = rec.Queries.Language
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, stats, fmt.Errorf("scan corpus: %w", err)
	}
	stats.Kept = len(out)

	logger.Info("Corpus loaded",
		zap.Int("lines", stats.Lines),
		zap.Int("kept", stats.Kept),
		zap.Int("decode_errors", stats.DecodeErrors),
		zap.Int("failed", stats.Failed),
		zap.Int("nan", stats.NaN),
	)
	return out, stats, nil
}

// Sample picks n entries uniformly without replacement. n <= 0 or n >= len
// returns every entry. seed 0 draws a time-based seed.
func Sample(entries []domain.PageResult, n int, seed int64) []domain.PageResult {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)) //nolint:gosec // sampling, not crypto

	idx := rng.Perm(len(entries))[:n]
	out := make([]domain.PageResult, n)
	for i, j := range idx {
		out[i] = entries[j]
	}
	return out
}

// recordWriter is the sink Clean writes through.
type recordWriter interface {
	Write(record any) error
}

// Clean copies every usable entry of the corpus at path into w.
func Clean(path string, w recordWriter, logger *zap.Logger) (Stats, error) {
	entries, stats, err := Load(path, logger)
	if err != nil {
		return stats, err
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			return stats, fmt.Errorf("write cleaned entry: %w", err)
		}
	}
	return stats, nil
}
