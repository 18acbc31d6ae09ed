package resilience

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadMissingIsEmpty(t *testing.T) {
	s := newTestStore(t)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, StateVersion, state.Version)
	assert.Empty(t, state.Hosts)
	assert.False(t, s.Exists())
}

func TestStoreUpdateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(func(st *State) error {
		st.Host(testHost).CircuitBreaker.Failures = 3
		return nil
	}))
	assert.True(t, s.Exists())

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, state.Peek(testHost).CircuitBreaker.Failures)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestStoreUpdateErrorDoesNotSave(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(func(st *State) error {
		st.Host(testHost).CircuitBreaker.Failures = 9
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, s.Exists())
}

func TestStoreCorruptFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("{nope"), 0600))

	state, err := NewStore(dir).Load()
	require.NoError(t, err)
	assert.Empty(t, state.Hosts)
}

func TestStoreClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(func(st *State) error { st.Host(testHost); return nil }))
	require.NoError(t, s.Clear())
	assert.False(t, s.Exists())
	require.NoError(t, s.Clear(), "clearing twice is fine")
}

func TestDefaultDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "issuesync"), DefaultDir())
	assert.Equal(t, filepath.Join("/tmp/xdg", "issuesync"), NewStore("").Dir())
}
