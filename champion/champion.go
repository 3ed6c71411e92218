// Package champion manages the process-wide Champion singleton: the
// current best prompt, protected by a read/write barrier so readers always
// observe a consistent {base, patch, composed}, persisted to a single JSON
// file via the same temp-file-then-rename pattern
// evaluation/evalresult/local/local.go uses for its eval-result store.
package champion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/epicforge/promptopt/patchsynth"
)

const (
	defaultDirPermission  = 0o755
	defaultFilePermission = 0o644
	defaultTempSuffix     = ".tmp"

	// MaxHistory bounds the retained history to N=20 entries.
	MaxHistory = 20
)

// Snapshot is one historical entry: the patch that was champion, and when
// it stopped being so.
type Snapshot struct {
	Patch      string    `json:"patch"`
	ReplacedAt time.Time `json:"replacedAt"`
}

// State is the Champion data model : {base, patch, composed,
// updatedAt, history}.
type State struct {
	Base      string     `json:"base"`
	Patch     string     `json:"patch"`
	Composed  string     `json:"composed"`
	UpdatedAt time.Time  `json:"updatedAt"`
	History   []Snapshot `json:"history"`
}

// Store owns the single Champion singleton: one writer (the orchestrator),
// many readers, guarded by a RWMutex so reads always observe a consistent
// triple.
type Store struct {
	mu     sync.RWMutex
	state  State
	path   string
	logger *zap.Logger
}

// NewStore builds a Store backed by path, initializing from persisted
// storage if present, or from seededBase/seededPatch otherwise. On a
// corrupt or unreadable file it falls back to the seeded default and logs
// a warning rather than failing startup.
func NewStore(path, seededBase, seededPatch string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger}
	if loaded, err := load(path); err == nil {
		s.state = loaded
		return s
	} else if !os.IsNotExist(err) {
		logger.Warn("champion store: falling back to seeded default", zap.Error(err), zap.String("path", path))
	}
	s.state = State{
		Base:      seededBase,
		Patch:     seededPatch,
		Composed:  patchsynth.ComposedPrompt(seededBase, seededPatch),
		UpdatedAt: time.Time{},
	}
	return s
}

// Current returns a consistent snapshot of the current champion.
func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// Promote atomically replaces the patch (base is immutable once seeded),
// appends the previous patch to bounded history, and persists the new
// state to disk via a temp-file-then-rename write.
func (s *Store) Promote(newPatch string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := Snapshot{Patch: s.state.Patch, ReplacedAt: now}
	s.state.History = append(s.state.History, previous)
	if len(s.state.History) > MaxHistory {
		s.state.History = s.state.History[len(s.state.History)-MaxHistory:]
	}
	s.state.Patch = newPatch
	s.state.Composed = patchsynth.ComposedPrompt(s.state.Base, newPatch)
	s.state.UpdatedAt = now

	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, defaultDirPermission); err != nil {
		return fmt.Errorf("champion: mkdir %s: %w", dir, err)
	}
	tmp := s.path + defaultTempSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFilePermission)
	if err != nil {
		return fmt.Errorf("champion: open %s: %w", tmp, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.state); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("champion: encode %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("champion: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("champion: rename %s to %s: %w", tmp, s.path, err)
	}
	return nil
}

func load(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	var state State
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return state, nil
}

func cloneState(s State) State {
	out := s
	out.History = append([]Snapshot(nil), s.History...)
	return out
}
