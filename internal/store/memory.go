package store

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/basecamp/issuesync/internal/live"
)

// record is one stored entity plus its write metadata.
type record[T any] struct {
	item      T
	updatedAt time.Time
	rev       uint64
}

// MemoryStore is an in-process LocalStore. Safe for concurrent use.
type MemoryStore[K cmp.Ordered, G comparable, T Entity[K, G]] struct {
	mu      sync.RWMutex
	records map[K]record[T]
	members map[G]map[K]struct{}
	byID    map[K]*live.Source[T]
	byGroup map[G]*live.Source[[]T]
	revs    uint64
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore[K cmp.Ordered, G comparable, T Entity[K, G]]() *MemoryStore[K, G, T] {
	return &MemoryStore[K, G, T]{
		records: make(map[K]record[T]),
		members: make(map[G]map[K]struct{}),
		byID:    make(map[K]*live.Source[T]),
		byGroup: make(map[G]*live.Source[[]T]),
		now:     time.Now,
	}
}

// Upsert inserts or replaces items by key. Later items in the batch win
// over earlier ones with the same key.
func (s *MemoryStore[K, G, T]) Upsert(items ...T) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(items, s.now())
	return nil
}

// UpsertIfUnchanged applies items only if id is still at rev.
func (s *MemoryStore[K, G, T]) UpsertIfUnchanged(id K, rev uint64, items ...T) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[id].rev != rev {
		return false, nil
	}
	s.applyLocked(items, s.now())
	return true, nil
}

// UpsertUnchangedSince applies the items whose records were not written
// after revision since and reports how many were skipped.
func (s *MemoryStore[K, G, T]) UpsertUnchangedSince(since uint64, items ...T) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := s.unchangedLocked(since, items)
	if len(fresh) > 0 {
		s.applyLocked(fresh, s.now())
	}
	return len(items) - len(fresh), nil
}

// Watermark returns the latest revision handed out by the store.
func (s *MemoryStore[K, G, T]) Watermark() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revs
}

// unchangedLocked filters out items whose record is newer than since.
func (s *MemoryStore[K, G, T]) unchangedLocked(since uint64, items []T) []T {
	fresh := make([]T, 0, len(items))
	for _, item := range items {
		if s.records[item.Key()].rev <= since {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

// Revision returns the write revision of id, 0 when absent.
func (s *MemoryStore[K, G, T]) Revision(id K) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].rev
}

// GetByID returns the shared handle for id, or nil when id is not stored.
func (s *MemoryStore[K, G, T]) GetByID(id K) *live.Value[T] {
	s.mu.RLock()
	_, ok := s.records[id]
	src := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if src != nil {
		return src.Value()
	}
	return s.Watch(id)
}

// Watch returns the shared handle for id, creating it if needed.
func (s *MemoryStore[K, G, T]) Watch(id K) *live.Value[T] {
	s.mu.RLock()
	src := s.byID[id]
	s.mu.RUnlock()
	if src != nil {
		return src.Value()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if src = s.byID[id]; src != nil {
		return src.Value()
	}
	src = live.NewSource[T](fmt.Sprintf("id:%v", id))
	if rec, ok := s.records[id]; ok {
		src.SetAt(rec.item, rec.updatedAt)
	}
	s.byID[id] = src
	return src.Value()
}

// GetByGroup returns the shared handle for group. Never nil.
func (s *MemoryStore[K, G, T]) GetByGroup(group G) *live.Value[[]T] {
	s.mu.RLock()
	src := s.byGroup[group]
	s.mu.RUnlock()
	if src != nil {
		return src.Value()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if src = s.byGroup[group]; src != nil {
		return src.Value()
	}
	src = live.NewSource[[]T](fmt.Sprintf("group:%v", group))
	items, at := s.collectLocked(group)
	src.SetAt(items, at)
	s.byGroup[group] = src
	return src.Value()
}

// Clear removes every record. Existing handles report absent (or an empty
// collection for group handles).
func (s *MemoryStore[K, G, T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(make(map[K]record[T]))
}

// Len returns the number of stored records.
func (s *MemoryStore[K, G, T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats returns a summary of the store's contents.
func (s *MemoryStore[K, G, T]) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Records: len(s.records),
		Groups:  len(s.members),
		Handles: len(s.byID) + len(s.byGroup),
	}
}

// applyLocked writes items and publishes to affected handles.
// Caller holds s.mu for writing.
func (s *MemoryStore[K, G, T]) applyLocked(items []T, at time.Time) {
	touched := make(map[K]struct{}, len(items))
	groups := make(map[G]struct{})

	for _, item := range items {
		key := item.Key()
		group := item.Group()
		if prev, ok := s.records[key]; ok {
			if old := prev.item.Group(); old != group {
				s.removeMemberLocked(old, key)
				groups[old] = struct{}{}
			}
		}
		s.revs++
		s.records[key] = record[T]{item: item, updatedAt: at, rev: s.revs}
		s.addMemberLocked(group, key)
		touched[key] = struct{}{}
		groups[group] = struct{}{}
	}

	for key := range touched {
		if src := s.byID[key]; src != nil {
			rec := s.records[key]
			src.SetAt(rec.item, rec.updatedAt)
		}
	}
	s.publishGroupsLocked(groups)
}

// replaceLocked swaps in a complete record set (used by Clear and file
// reloads) and publishes every difference. Records are compared by write
// time. Caller holds s.mu for writing.
func (s *MemoryStore[K, G, T]) replaceLocked(next map[K]record[T]) {
	groups := make(map[G]struct{})
	prev := s.records

	s.records = make(map[K]record[T], len(next))
	s.members = make(map[G]map[K]struct{})
	for key, rec := range next {
		old, had := prev[key]
		if had && old.updatedAt.Equal(rec.updatedAt) {
			s.records[key] = old
			s.addMemberLocked(old.item.Group(), key)
			continue
		}
		if had {
			groups[old.item.Group()] = struct{}{}
		}
		s.revs++
		rec.rev = s.revs
		s.records[key] = rec
		s.addMemberLocked(rec.item.Group(), key)
		groups[rec.item.Group()] = struct{}{}
		if src := s.byID[key]; src != nil {
			src.SetAt(rec.item, rec.updatedAt)
		}
	}

	for key, old := range prev {
		if _, ok := next[key]; ok {
			continue
		}
		groups[old.item.Group()] = struct{}{}
		if src := s.byID[key]; src != nil {
			src.Clear()
		}
	}
	s.publishGroupsLocked(groups)
}

func (s *MemoryStore[K, G, T]) publishGroupsLocked(groups map[G]struct{}) {
	for group := range groups {
		if src := s.byGroup[group]; src != nil {
			items, at := s.collectLocked(group)
			src.SetAt(items, at)
		}
	}
}

func (s *MemoryStore[K, G, T]) addMemberLocked(group G, key K) {
	m := s.members[group]
	if m == nil {
		m = make(map[K]struct{})
		s.members[group] = m
	}
	m[key] = struct{}{}
}

func (s *MemoryStore[K, G, T]) removeMemberLocked(group G, key K) {
	m := s.members[group]
	delete(m, key)
	if len(m) == 0 {
		delete(s.members, group)
	}
}

// collectLocked returns the group's items ordered by key and the latest
// write time among them.
func (s *MemoryStore[K, G, T]) collectLocked(group G) ([]T, time.Time) {
	keys := make([]K, 0, len(s.members[group]))
	for key := range s.members[group] {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	items := make([]T, 0, len(keys))
	var latest time.Time
	for _, key := range keys {
		rec := s.records[key]
		items = append(items, rec.item)
		if rec.updatedAt.After(latest) {
			latest = rec.updatedAt
		}
	}
	return items, latest
}
