package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/issuesync/internal/live"
)

func TestFactoriesMessageInvariant(t *testing.T) {
	src := live.NewSource[string]("k")
	src.Set("v")
	h := src.Value()

	loading := Loading(h)
	_, ok := loading.Message()
	assert.False(t, ok)
	assert.Equal(t, StatusLoading, loading.Status())

	success := Success(h)
	_, ok = success.Message()
	assert.False(t, ok)
	assert.Equal(t, StatusSuccess, success.Status())

	failed := Error("timeout", h)
	msg, ok := failed.Message()
	assert.True(t, ok)
	assert.Equal(t, "timeout", msg)
	assert.Equal(t, StatusError, failed.Status())
}

func TestErrorWithoutMessagePanics(t *testing.T) {
	assert.Panics(t, func() {
		Error[int]("", nil)
	})
}

func TestNilDataAllowedInEveryStatus(t *testing.T) {
	assert.Nil(t, Loading[int](nil).Data())
	assert.Nil(t, Success[int](nil).Data())
	assert.Nil(t, Error[int]("boom", nil).Data())

	v, ok := Loading[int](nil).Value()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestEqualUsesHandleIdentity(t *testing.T) {
	a := live.NewSource[int]("a")
	b := live.NewSource[int]("a")
	a.Set(1)
	b.Set(1)

	assert.True(t, Success(a.Value()).Equal(Success(a.Value())))
	assert.False(t, Success(a.Value()).Equal(Success(b.Value())), "same contents, different handle")
	assert.False(t, Success(a.Value()).Equal(Loading(a.Value())))
	assert.True(t, Error("x", a.Value()).Equal(Error("x", a.Value())))
	assert.False(t, Error("x", a.Value()).Equal(Error("y", a.Value())))
	assert.True(t, Loading[int](nil).Equal(Loading[int](nil)))
}

func TestValueReadsThroughHandle(t *testing.T) {
	src := live.NewSource[string]("k")
	r := Success(src.Value())

	_, ok := r.Value()
	assert.False(t, ok)

	// The envelope is immutable but its handle is live.
	src.Set("later")
	v, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, "later", v)
}

func TestResourceString(t *testing.T) {
	assert.Equal(t, "Resource{status=loading, message=<nil>, data=<nil>}", Loading[int](nil).String())
	assert.Equal(t, `Resource{status=error, message="timeout", data=<nil>}`, Error[int]("timeout", nil).String())
}

func TestStatusText(t *testing.T) {
	data, err := json.Marshal(map[string]Status{"s": StatusError})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"error"}`, string(data))

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("success")))
	assert.Equal(t, StatusSuccess, s)
	assert.Error(t, s.UnmarshalText([]byte("done")))

	_, err = Status(42).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "unknown", Status(42).String())

	assert.False(t, StatusLoading.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusError.Terminal())
}
