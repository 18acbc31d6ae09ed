package resilience

import (
	"testing"
	"time"
)

const testHost = "api.example.test"

// clock is a manually advanced time source.
type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}
