// Package store provides the local cache that backs resource observation.
//
// A store is keyed by entity identity and queryable by group. Every query
// returns a live handle that keeps updating as the store changes, and the
// same handle is returned for the same query so observers can compare
// handles by identity.
package store

import (
	"cmp"

	"github.com/basecamp/issuesync/internal/live"
)

// Entity is anything with an identity key and a group.
type Entity[K cmp.Ordered, G comparable] interface {
	Key() K
	Group() G
}

// LocalStore is the persistence contract the coordinator relies on.
// Reads never block on the network.
type LocalStore[K cmp.Ordered, G comparable, T Entity[K, G]] interface {
	// Upsert inserts or replaces items by identity key. A batch is applied
	// atomically: either every item becomes visible or none does.
	Upsert(items ...T) error

	// GetByID returns the handle for id, or nil when nothing is stored.
	GetByID(id K) *live.Value[T]

	// GetByGroup returns the handle for all items in group, ordered by key.
	// Never nil; the collection is empty when nothing matches.
	GetByGroup(group G) *live.Value[[]T]

	// Watch returns the handle for id whether or not it is stored yet.
	// It is the same handle GetByID returns once the item exists.
	Watch(id K) *live.Value[T]
}

// Revisioned is implemented by stores that track per-key write revisions.
// It lets a writer skip an update when the record changed underneath it.
type Revisioned[K cmp.Ordered, T any] interface {
	// Revision returns the current write revision of id, 0 when absent.
	Revision(id K) uint64

	// UpsertIfUnchanged applies items only if id is still at rev.
	UpsertIfUnchanged(id K, rev uint64, items ...T) (bool, error)

	// Watermark returns the latest revision handed out by the store.
	// Every later write gets a higher revision.
	Watermark() uint64

	// UpsertUnchangedSince applies the items whose records were not written
	// after revision since and reports how many were skipped.
	UpsertUnchangedSince(since uint64, items ...T) (int, error)
}

// Stats summarizes store contents.
type Stats struct {
	Records int `json:"records"`
	Groups  int `json:"groups"`
	Handles int `json:"handles"`
}
