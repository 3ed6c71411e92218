// Package taskstore implements the Task Store: a process-wide
// in-memory registry of long-running optimization jobs keyed by a freshly
// minted UUID, with lazy TTL-based reaping of terminal tasks. The
// lock/lazy-expiry shape follows the same pattern as
// codeready-toolchain-tarsy/pkg/runbook/cache.go's runbook.Cache.
package taskstore

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the fixed task status enum.
type Status string

// Recognized statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is a structured progress snapshot attached to a running task.
type Progress struct {
	Step      string
	Detail    string
	Completed int
	Total     int
	UpdatedAt time.Time
}

// Task is one registry entry.
type Task struct {
	ID          string
	Config      any
	Status      Status
	Progress    Progress
	Result      any
	Err         error
	CreatedAt   time.Time
	TerminalAt  time.Time
	hasTerminal bool
}

// DefaultReapAfter is T_reap: tasks are evicted 1 hour after
// reaching a terminal state.
const DefaultReapAfter = time.Hour

// Store is the process-wide task registry. All methods are safe for
// concurrent use; mutation is serialized by a single mutex.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	reapAfter time.Duration
	now       func() time.Time
}

// NewStore builds an empty Store. now defaults to time.Now; tests may
// override it for deterministic reaping checks.
func NewStore(reapAfter time.Duration, now func() time.Time) *Store {
	if reapAfter <= 0 {
		reapAfter = DefaultReapAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Store{tasks: make(map[string]*Task), reapAfter: reapAfter, now: now}
}

// Create registers a new task in StatusPending with a freshly minted UUID
// and returns a copy.
func (s *Store) Create(config any) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Task{
		ID:        uuid.NewString(),
		Config:    config,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	s.tasks[t.ID] = t
	return *t
}

// Get returns a copy of the task with the given id, reaping it first if
// its TTL has elapsed. The second return is false if absent or reaped.
func (s *Store) Get(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked(taskID)
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// UpdateProgress transitions a task to StatusRunning (if not already
// terminal) and records the given progress snapshot.
func (s *Store) UpdateProgress(taskID string, progress Progress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Status.terminal() {
		return false
	}
	if t.Status == StatusPending {
		t.Status = StatusRunning
	}
	progress.UpdatedAt = s.now()
	t.Progress = progress
	return true
}

// Complete marks a task terminal, storing result on success or err on
// failure. Calling Complete on an already-terminal task is a no-op and
// returns false.
func (s *Store) Complete(taskID string, result any, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Status.terminal() {
		return false
	}
	now := s.now()
	t.TerminalAt = now
	t.hasTerminal = true
	if err != nil {
		t.Status = StatusFailed
		t.Err = err
	} else {
		t.Status = StatusCompleted
		t.Result = result
	}
	return true
}

// reapLocked deletes taskID if it is terminal and past its TTL. Callers
// must hold s.mu.
func (s *Store) reapLocked(taskID string) {
	t, ok := s.tasks[taskID]
	if !ok || !t.hasTerminal {
		return
	}
	if s.now().Sub(t.TerminalAt) > s.reapAfter {
		delete(s.tasks, taskID)
	}
}

// ReapExpired sweeps every terminal task past its TTL. Callers may invoke
// this periodically instead of relying solely on Get's lazy reap.
func (s *Store) ReapExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	reaped := 0
	for id, t := range s.tasks {
		if t.hasTerminal && s.now().Sub(t.TerminalAt) > s.reapAfter {
			delete(s.tasks, id)
			reaped++
		}
	}
	return reaped
}
