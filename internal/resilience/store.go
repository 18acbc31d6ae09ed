// Package resilience gates remote fetches with a circuit breaker, a token
// bucket and a bulkhead whose state is shared across processes through a
// locked JSON file.
package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

const (
	// StateFileName is the state file inside the store directory.
	StateFileName = "resilience.json"

	// LockTimeout bounds the wait for the state lock. Past it, operations
	// proceed unlocked rather than hang the command.
	LockTimeout = 100 * time.Millisecond
)

// Store reads and writes State under an exclusive file lock.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a store in dir, or in DefaultDir() when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{dir: dir, now: time.Now}
}

// DefaultDir is the per-user cache directory for issuesync state.
func DefaultDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "issuesync")
	}
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "issuesync")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "issuesync")
	}
	return filepath.Join(os.TempDir(), "issuesync")
}

func (s *Store) Dir() string  { return s.dir }
func (s *Store) Path() string { return filepath.Join(s.dir, StateFileName) }

func (s *Store) lockPath() string { return s.Path() + ".lock" }

// acquireLock returns nil without error when the lock is not obtained
// within LockTimeout. The primitives tolerate the occasional lost update.
func (s *Store) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}
	fl := flock.New(s.lockPath())

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

// Load reads the state. A missing or corrupt file yields an empty state.
func (s *Store) Load() (*State, error) {
	lock, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}
	return s.read()
}

// Update runs fn on the current state and saves the result, holding the
// lock for the whole read-modify-write. The state is not saved if fn fails.
func (s *Store) Update(fn func(*State) error) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	state, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	state.UpdatedAt = s.now()
	return s.write(state)
}

// Clear removes the state file.
func (s *Store) Clear() error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a state file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil || state.Version != StateVersion {
		return NewState(), nil
	}
	if state.Hosts == nil {
		state.Hosts = make(map[string]*HostState)
	}
	return &state, nil
}

func (s *Store) write(state *State) error {
	state.Version = StateVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Unique temp name: without the lock two writers may race here.
	tmp := fmt.Sprintf("%s.%d.%d.tmp", s.Path(), os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		_ = os.Remove(s.Path())
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
