package coordinator

import (
	"time"

	"github.com/basecamp/issuesync/internal/live"
)

// RefreshPolicy decides from the cached snapshot whether a fetch is needed.
type RefreshPolicy[V any] func(snap live.Snapshot[V]) bool

// Always fetches on every observation.
func Always[V any]() RefreshPolicy[V] {
	return func(live.Snapshot[V]) bool { return true }
}

// Never serves the cache only.
func Never[V any]() RefreshPolicy[V] {
	return func(live.Snapshot[V]) bool { return false }
}

// IfMissing fetches only when nothing is cached.
func IfMissing[V any]() RefreshPolicy[V] {
	return func(snap live.Snapshot[V]) bool { return !snap.HasData }
}

// OlderThan fetches when nothing is cached or the cached value was written
// more than maxAge ago.
func OlderThan[V any](maxAge time.Duration) RefreshPolicy[V] {
	return func(snap live.Snapshot[V]) bool {
		if !snap.HasData || snap.UpdatedAt.IsZero() {
			return true
		}
		return time.Since(snap.UpdatedAt) > maxAge
	}
}

// Any fetches when at least one policy says so.
func Any[V any](policies ...RefreshPolicy[V]) RefreshPolicy[V] {
	return func(snap live.Snapshot[V]) bool {
		for _, p := range policies {
			if p(snap) {
				return true
			}
		}
		return false
	}
}
