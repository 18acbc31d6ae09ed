package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/basecamp/issuesync/internal/live"
)

const (
	// FileVersion is the current on-disk format version.
	FileVersion = 1

	// LockTimeout is the maximum time to wait for the file lock.
	// If exceeded, the operation proceeds without locking (fail-open).
	LockTimeout = 100 * time.Millisecond
)

// fileRecord is the on-disk shape of one record.
type fileRecord[T any] struct {
	Item      T         `json:"item"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileContents[T any] struct {
	Version int             `json:"version"`
	Records []fileRecord[T] `json:"records"`
}

// FileStore is a LocalStore persisted as a JSON file. Writes hold an
// exclusive file lock and replace the file atomically; a batch is on disk
// before it becomes visible to handles. Changes written by other processes
// are picked up through a directory watch.
type FileStore[K cmp.Ordered, G comparable, T Entity[K, G]] struct {
	mem    *MemoryStore[K, G, T]
	path   string
	logger *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// FileOption configures a FileStore.
type FileOption func(*fileOptions)

type fileOptions struct {
	logger *slog.Logger
	watch  bool
}

// WithLogger sets the logger used for reload and watch diagnostics.
func WithLogger(l *slog.Logger) FileOption {
	return func(o *fileOptions) { o.logger = l }
}

// WithWatch enables or disables the cross-process change watch (default on).
func WithWatch(enabled bool) FileOption {
	return func(o *fileOptions) { o.watch = enabled }
}

// OpenFile loads the store at path, creating its directory if needed.
// A missing file is an empty store; a corrupt file is treated as empty.
func OpenFile[K cmp.Ordered, G comparable, T Entity[K, G]](path string, opts ...FileOption) (*FileStore[K, G, T], error) {
	o := fileOptions{logger: slog.New(slog.DiscardHandler), watch: true}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	s := &FileStore[K, G, T]{
		mem:    NewMemoryStore[K, G, T](),
		path:   path,
		logger: o.logger,
		done:   make(chan struct{}),
	}

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	s.mem.mu.Lock()
	s.mem.replaceLocked(records)
	s.mem.mu.Unlock()

	if o.watch {
		if err := s.startWatch(); err != nil {
			// Watching is best-effort; the store still works for this process.
			s.logger.Warn("cache watch unavailable", "path", path, "error", err)
		}
	}
	return s, nil
}

// ReadFile returns the items stored at path ordered by key, without locking
// or watching. A missing or unreadable file yields no items.
func ReadFile[K cmp.Ordered, G comparable, T Entity[K, G]](path string) ([]T, error) {
	s := &FileStore[K, G, T]{path: path, logger: slog.New(slog.DiscardHandler)}
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]K, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	items := make([]T, 0, len(keys))
	for _, key := range keys {
		items = append(items, records[key].item)
	}
	return items, nil
}

// Path returns the cache file path.
func (s *FileStore[K, G, T]) Path() string { return s.path }

// Upsert persists items and then publishes them.
func (s *FileStore[K, G, T]) Upsert(items ...T) error {
	if len(items) == 0 {
		return nil
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	return s.commitLocked(items)
}

// UpsertIfUnchanged persists and publishes items only if id is still at rev.
func (s *FileStore[K, G, T]) UpsertIfUnchanged(id K, rev uint64, items ...T) (bool, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if s.mem.records[id].rev != rev {
		return false, nil
	}
	if err := s.commitLocked(items); err != nil {
		return false, err
	}
	return true, nil
}

// UpsertUnchangedSince persists and publishes the items whose records were
// not written after revision since and reports how many were skipped.
func (s *FileStore[K, G, T]) UpsertUnchangedSince(since uint64, items ...T) (int, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	fresh := s.mem.unchangedLocked(since, items)
	if len(fresh) > 0 {
		if err := s.commitLocked(fresh); err != nil {
			return 0, err
		}
	}
	return len(items) - len(fresh), nil
}

// Watermark returns the latest revision handed out by the store.
func (s *FileStore[K, G, T]) Watermark() uint64 { return s.mem.Watermark() }

// commitLocked writes the merged record set to disk, then applies items in
// memory. On a write error memory is left untouched. Caller holds s.mem.mu.
func (s *FileStore[K, G, T]) commitLocked(items []T) error {
	at := s.mem.now()

	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	// Start from what is on disk so records written by other processes
	// since our last reload are kept.
	merged, err := s.load()
	if err != nil {
		return err
	}
	for _, item := range items {
		stamp := at
		if prev, ok := merged[item.Key()]; ok && !stamp.After(prev.updatedAt) {
			stamp = prev.updatedAt.Add(time.Nanosecond)
		}
		merged[item.Key()] = record[T]{item: item, updatedAt: stamp}
	}

	if err := s.save(merged); err != nil {
		return fmt.Errorf("persisting cache: %w", err)
	}

	s.mem.replaceLocked(merged)
	return nil
}

// Revision returns the write revision of id, 0 when absent.
func (s *FileStore[K, G, T]) Revision(id K) uint64 { return s.mem.Revision(id) }

// GetByID returns the shared handle for id, or nil when id is not stored.
func (s *FileStore[K, G, T]) GetByID(id K) *live.Value[T] { return s.mem.GetByID(id) }

// GetByGroup returns the shared handle for group. Never nil.
func (s *FileStore[K, G, T]) GetByGroup(group G) *live.Value[[]T] { return s.mem.GetByGroup(group) }

// Watch returns the shared handle for id, creating it if needed.
func (s *FileStore[K, G, T]) Watch(id K) *live.Value[T] { return s.mem.Watch(id) }

// Stats returns a summary of the store's contents.
func (s *FileStore[K, G, T]) Stats() Stats { return s.mem.Stats() }

// Len returns the number of stored records.
func (s *FileStore[K, G, T]) Len() int { return s.mem.Len() }

// Clear removes the cache file and every record.
func (s *FileStore[K, G, T]) Clear() error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	s.mem.replaceLocked(make(map[K]record[T]))
	return nil
}

// Reload re-reads the file and publishes any differences.
func (s *FileStore[K, G, T]) Reload() error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	s.mem.replaceLocked(records)
	return nil
}

// Close stops the change watch. The store remains readable.
func (s *FileStore[K, G, T]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return err
}

func (s *FileStore[K, G, T]) lockPath() string {
	return s.path + ".lock"
}

// acquireLock obtains an exclusive lock on the cache file.
// Returns nil (with no error) if the lock is not acquired within LockTimeout.
func (s *FileStore[K, G, T]) acquireLock() (*flock.Flock, error) {
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

// load reads the file without locking.
func (s *FileStore[K, G, T]) load() (map[K]record[T], error) {
	records := make(map[K]record[T])

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	var contents fileContents[T]
	if err := json.Unmarshal(data, &contents); err != nil || contents.Version != FileVersion {
		// Corrupt or foreign file: start empty, the next write replaces it
		s.logger.Warn("ignoring unreadable cache file", "path", s.path)
		return records, nil
	}
	for _, fr := range contents.Records {
		records[fr.Item.Key()] = record[T]{item: fr.Item, updatedAt: fr.UpdatedAt}
	}
	return records, nil
}

// save writes records atomically via a temp file and rename.
func (s *FileStore[K, G, T]) save(records map[K]record[T]) error {
	contents := fileContents[T]{Version: FileVersion, Records: make([]fileRecord[T], 0, len(records))}
	for _, rec := range records {
		contents.Records = append(contents.Records, fileRecord[T]{Item: rec.item, UpdatedAt: rec.updatedAt})
	}
	slices.SortFunc(contents.Records, func(a, b fileRecord[T]) int {
		return cmp.Compare(a.Item.Key(), b.Item.Key())
	})

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.%d.tmp", s.path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	// On Windows, os.Rename fails if destination exists.
	if runtime.GOOS == "windows" {
		_ = os.Remove(s.path)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// startWatch watches the cache directory; the file itself is replaced by
// rename on every write so watching it directly would lose the inode.
func (s *FileStore[K, G, T]) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w

	s.wg.Add(1)
	go s.watchLoop()
	return nil
}

func (s *FileStore[K, G, T]) watchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Debug("cache reload failed", "path", s.path, "error", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("cache watch error", "path", s.path, "error", err)
			}
		}
	}
}
