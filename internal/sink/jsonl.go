// Package sink persists pipeline output: an append-only JSONL corpus and
// whole-file JSON snapshots.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONL appends one JSON document per line to a file truncated at open.
// Safe for concurrent use: each record is marshaled outside the lock and
// written with a single Write call under it, so lines never interleave.
type JSONL struct {
	mu    sync.Mutex
	f     *os.File
	count int
}

// OpenJSONL creates (or truncates) path and its parent directory.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &JSONL{f: f}, nil
}

// Write appends record as one line.
func (s *JSONL) Write(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	s.count++
	return nil
}

// Count returns the number of lines written so far.
func (s *JSONL) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes and closes the file. Further writes fail with os.ErrClosed.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Sync()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	if err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}
