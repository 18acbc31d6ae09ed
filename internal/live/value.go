// Package live provides observable values bound to a store query.
//
// A Value is the read side handed to observers; a Source is the write side
// kept by the store that owns the query. Subscribers are notified through
// one-slot channels that coalesce: a slow reader skips intermediate values
// but always receives the latest one, and the writer never blocks.
package live

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of a Value.
type Snapshot[T any] struct {
	Data      T
	HasData   bool      // distinguishes zero-value T from "absent"
	UpdatedAt time.Time // when the store last wrote the value
	Version   uint64    // incremented on every publish
}

// Value is a live, read-only reference to the current result of a query.
type Value[T any] struct {
	mu     sync.RWMutex
	key    string
	snap   Snapshot[T]
	subs   map[uint64]*subscription[T]
	nextID uint64
}

type subscription[T any] struct {
	ch   chan Snapshot[T]
	once sync.Once
}

// Key returns the query key the value is bound to.
func (v *Value[T]) Key() string { return v.key }

// Get returns the current data and whether any is present. Never blocks.
func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap.Data, v.snap.HasData
}

// Snapshot returns the current state including timing metadata.
func (v *Value[T]) Snapshot() Snapshot[T] {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

// Version returns the number of publishes so far.
func (v *Value[T]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap.Version
}

// Subscribe registers for change notifications. The returned cancel func
// closes the channel; it is safe to call more than once.
func (v *Value[T]) Subscribe() (<-chan Snapshot[T], func()) {
	sub := &subscription[T]{ch: make(chan Snapshot[T], 1)}

	v.mu.Lock()
	if v.subs == nil {
		v.subs = make(map[uint64]*subscription[T])
	}
	v.nextID++
	id := v.nextID
	v.subs[id] = sub
	v.mu.Unlock()

	cancel := func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}

func (v *Value[T]) String() string {
	snap := v.Snapshot()
	if !snap.HasData {
		return fmt.Sprintf("live(%s@v%d, absent)", v.key, snap.Version)
	}
	return fmt.Sprintf("live(%s@v%d)", v.key, snap.Version)
}

// publishLocked stores snap and notifies subscribers. Caller holds v.mu.
func (v *Value[T]) publishLocked(snap Snapshot[T]) {
	snap.Version = v.snap.Version + 1
	v.snap = snap
	for _, sub := range v.subs {
		select {
		case sub.ch <- snap:
		default:
			// Drop the unread value; the latest one replaces it.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Source is the write side of a Value.
type Source[T any] struct {
	value *Value[T]
	now   func() time.Time
}

// NewSource creates a Source whose Value starts absent.
func NewSource[T any](key string) *Source[T] {
	return &Source[T]{
		value: &Value[T]{key: key},
		now:   time.Now,
	}
}

// Value returns the read side. The same pointer is returned on every call.
func (s *Source[T]) Value() *Value[T] { return s.value }

// Set publishes data as present.
func (s *Source[T]) Set(data T) {
	s.SetAt(data, s.now())
}

// SetAt publishes data with an explicit write time (used when restoring
// persisted records so their age survives a reload).
func (s *Source[T]) SetAt(data T, at time.Time) {
	s.value.mu.Lock()
	defer s.value.mu.Unlock()
	s.value.publishLocked(Snapshot[T]{Data: data, HasData: true, UpdatedAt: at})
}

// Clear publishes the absent state.
func (s *Source[T]) Clear() {
	s.value.mu.Lock()
	defer s.value.mu.Unlock()
	if !s.value.snap.HasData {
		return
	}
	s.value.publishLocked(Snapshot[T]{})
}
