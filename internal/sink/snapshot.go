package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot rewrites a whole JSON document on every Save.
// The write goes to a temp file first and is renamed over the target,
// so readers see either the previous or the new content, never a torn file.
type Snapshot struct {
	mu   sync.Mutex
	path string
}

// NewSnapshot creates a snapshot writer for path.
func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: filepath.Clean(path)}
}

// Path returns the target file.
func (s *Snapshot) Path() string { return s.path }

// Save writes v as indented JSON.
func (s *Snapshot) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", s.path, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads the current snapshot into v.
func (s *Snapshot) Load(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	return nil
}
