package resilience

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkheadAcquireAndRelease(t *testing.T) {
	bh := NewBulkhead(newTestStore(t), testHost, BulkheadConfig{MaxConcurrent: 5})

	ok, err := bh.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)

	inUse, err := bh.InUse()
	require.NoError(t, err)
	assert.Equal(t, 1, inUse)

	require.NoError(t, bh.Release())
	inUse, err = bh.InUse()
	require.NoError(t, err)
	assert.Equal(t, 0, inUse)
}

func TestBulkheadHoldsPermitUntilLastRelease(t *testing.T) {
	bh := NewBulkhead(newTestStore(t), testHost, BulkheadConfig{MaxConcurrent: 1})

	for i := 0; i < 3; i++ {
		ok, err := bh.Acquire()
		require.NoError(t, err)
		assert.True(t, ok, "same process shares its permit")
	}

	require.NoError(t, bh.Release())
	require.NoError(t, bh.Release())
	inUse, _ := bh.InUse()
	assert.Equal(t, 1, inUse, "permit kept while a fetch is still running")

	require.NoError(t, bh.Release())
	inUse, _ = bh.InUse()
	assert.Equal(t, 0, inUse)
}

func TestBulkheadRejectsWhenFull(t *testing.T) {
	store := newTestStore(t)
	// A live process other than us: our parent.
	require.NoError(t, store.Update(func(s *State) error {
		s.Host(testHost).Bulkhead.AddPID(os.Getppid())
		return nil
	}))

	bh := NewBulkhead(store, testHost, BulkheadConfig{MaxConcurrent: 1})
	ok, err := bh.Acquire()
	require.NoError(t, err)
	assert.False(t, ok)

	available, err := bh.Available()
	require.NoError(t, err)
	assert.Equal(t, 0, available)
}

func TestBulkheadPrunesDeadProcesses(t *testing.T) {
	store := newTestStore(t)
	const deadPID = 999999999
	require.NoError(t, store.Update(func(s *State) error {
		s.Host(testHost).Bulkhead.AddPID(deadPID)
		return nil
	}))

	bh := NewBulkhead(store, testHost, BulkheadConfig{MaxConcurrent: 1})
	ok, err := bh.Acquire()
	require.NoError(t, err)
	assert.True(t, ok, "dead holder should not block")

	state, err := store.Load()
	require.NoError(t, err)
	assert.False(t, state.Peek(testHost).Bulkhead.HasPID(deadPID))
}

func TestBulkheadReleaseWithoutAcquire(t *testing.T) {
	bh := NewBulkhead(newTestStore(t), testHost, BulkheadConfig{})
	assert.NoError(t, bh.Release())
}

func TestBulkheadReset(t *testing.T) {
	bh := NewBulkhead(newTestStore(t), testHost, BulkheadConfig{MaxConcurrent: 2})
	_, _ = bh.Acquire()
	require.NoError(t, bh.Reset())

	inUse, err := bh.InUse()
	require.NoError(t, err)
	assert.Equal(t, 0, inUse)
}

func TestBulkheadStatePIDHelpers(t *testing.T) {
	var s BulkheadState
	s.AddPID(1)
	s.AddPID(2)
	s.AddPID(1)
	assert.Equal(t, 2, s.Count())
	assert.True(t, s.HasPID(2))

	s.RemovePID(1)
	assert.Equal(t, []int{2}, s.ActivePIDs)
	s.RemovePID(42)
	assert.Equal(t, 1, s.Count())

	// Read helpers work on copies returned by State.Peek
	assert.True(t, BulkheadState{ActivePIDs: []int{7}}.HasPID(7))
	assert.Equal(t, 0, HostState{}.Bulkhead.Count())
}
