// Package artifacts persists one directory of JSON files per optimization
// iteration, grounded on iterfs.IterFS from
// examples/evaluation/promptiter/promptiter/iterfs/iterfs.go: a root
// directory, one "iter_NNNN" subdirectory per iteration, and JSON writes
// into it. This is the loop's audit trail — the evidence an
// AssuranceTuple's citation and an NQD archive's timestamp presuppose but
// don't carry inline.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store writes per-iteration artifacts under a root directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root. An empty root disables
// persistence; every write becomes a no-op returning a nil error, so
// callers can construct a Store unconditionally and only gate on whether
// the caller configured a directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Enabled reports whether the store was given a root directory.
func (s *Store) Enabled() bool {
	return s != nil && s.root != ""
}

// IterDir returns the directory that holds iteration iter's artifacts.
func (s *Store) IterDir(iter int) string {
	return filepath.Join(s.root, fmt.Sprintf("iter_%04d", iter))
}

// WriteJSON writes v as indented JSON to rel under iteration iter's
// directory, creating parent directories as needed. A no-op if the store
// is not Enabled.
func (s *Store) WriteJSON(iter int, rel string, v any) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal %s: %w", rel, err)
	}
	data = append(data, '\n')
	path := filepath.Join(s.IterDir(iter), rel)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("artifacts: mkdir for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("artifacts: write %s: %w", rel, err)
	}
	return nil
}
