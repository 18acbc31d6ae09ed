package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/basecamp/issuesync/internal/live"
)

func TestPolicies(t *testing.T) {
	absent := live.Snapshot[int]{}
	fresh := live.Snapshot[int]{Data: 1, HasData: true, UpdatedAt: time.Now()}
	old := live.Snapshot[int]{Data: 1, HasData: true, UpdatedAt: time.Now().Add(-time.Hour)}

	assert.True(t, Always[int]()(fresh))
	assert.False(t, Never[int]()(absent))

	assert.True(t, IfMissing[int]()(absent))
	assert.False(t, IfMissing[int]()(old))

	olderThan := OlderThan[int](5 * time.Minute)
	assert.True(t, olderThan(absent))
	assert.False(t, olderThan(fresh))
	assert.True(t, olderThan(old))

	either := Any(Never[int](), IfMissing[int]())
	assert.True(t, either(absent))
	assert.False(t, either(fresh))
	assert.False(t, Any[int]()(absent), "no policies never fetches")
}
