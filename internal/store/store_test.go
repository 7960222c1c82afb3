package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New(nil)
	s.Set("foo", "bar", SetOptions{})

	v, ok, err := s.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bar", v)
}

func TestExpiryIsLazyAndSticky(t *testing.T) {
	s := New(nil)
	fakeNow := time.Unix(1000, 0)
	s.now = func() time.Time { return fakeNow }

	s.Set("k", "v", SetOptions{ExpireAtMS: fakeNow.UnixMilli() + 50})

	v, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	fakeNow = fakeNow.Add(51 * time.Millisecond)
	_, ok, err = s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, s.Keys("*"))
}

func TestWrongType(t *testing.T) {
	s := New(nil)
	s.Set("k", "v", SetOptions{})
	_, err := s.Len("k")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestIncrByMissingKeyAndOverflow(t *testing.T) {
	s := New(nil)

	v, err := s.IncrBy("counter", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = s.IncrBy("counter", 41)
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	s.Set("maxed", "9223372036854775807", SetOptions{})
	_, err = s.IncrBy("maxed", 1)
	assert.ErrorIs(t, err, ErrNotInteger)
}

func TestIncrByNonNumeric(t *testing.T) {
	s := New(nil)
	s.Set("k", "not-a-number", SetOptions{})
	_, err := s.IncrBy("k", 1)
	assert.ErrorIs(t, err, ErrNotInteger)
}

func TestListPushPopLifecycle(t *testing.T) {
	s := New(nil)

	n, err := s.Push("L", false, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Range("L", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	popped, ok, err := s.Pop("L", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, popped)

	popped, ok, err = s.Pop("L", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, popped)

	// the list key is gone once empty.
	assert.Empty(t, s.Keys("*"))
}

func TestLRangeNegativeIndices(t *testing.T) {
	s := New(nil)
	_, err := s.Push("L", false, "a", "b", "c", "d")
	require.NoError(t, err)

	got, err := s.Range("L", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, got)

	got, err = s.Range("L", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)

	got, err = s.Range("L", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStreamAppendStrictlyIncreasing(t *testing.T) {
	s := New(nil)

	id, err := s.Append("s", "1-1", []Field{NewField("f", "v")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "1-1", id)

	_, err = s.Append("s", "1-1", []Field{NewField("f", "v")}, 0)
	assert.ErrorIs(t, err, ErrXAddNotGreater)

	id, err = s.Append("s", "1-*", []Field{NewField("f", "v")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "1-2", id)
}

func TestStreamAppendZeroSentinelRejected(t *testing.T) {
	s := New(nil)
	_, err := s.Append("s", "0-0", []Field{NewField("f", "v")}, 0)
	assert.ErrorIs(t, err, ErrXAddMustBeGreaterThanZero)
}

func TestStreamAppendAutoID(t *testing.T) {
	s := New(nil)
	id, err := s.Append("s", "*", []Field{NewField("f", "v")}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "1000-0", id)

	id, err = s.Append("s", "*", []Field{NewField("f", "v")}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "1000-1", id)
}

func TestStreamRangeOpenBounds(t *testing.T) {
	s := New(nil)
	_, err := s.Append("s", "1-1", []Field{NewField("f", "a")}, 0)
	require.NoError(t, err)
	_, err = s.Append("s", "2-1", []Field{NewField("f", "b")}, 0)
	require.NoError(t, err)

	entries, err := s.RangeStream("s", "-", "+")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1-1", entries[0].ID)
	assert.Equal(t, "2-1", entries[1].ID)
}

func TestPubSubTransposeInvariant(t *testing.T) {
	s := New(nil)
	sub := NewSubscriber(func([]byte) error { return nil })

	n := s.Subscribe(sub, "ch")
	assert.Equal(t, 1, n)
	assert.True(t, s.IsSubscribed(sub))

	delivered := s.Publish("ch", []byte("hi"))
	assert.Equal(t, 1, delivered)

	n = s.Unsubscribe(sub, "ch")
	assert.Equal(t, 0, n)
	assert.False(t, s.IsSubscribed(sub))
}

func TestPublishSwallowsSendFailure(t *testing.T) {
	s := New(nil)
	sub := NewSubscriber(func([]byte) error { return assertErr })

	s.Subscribe(sub, "ch")
	delivered := s.Publish("ch", []byte("hi"))
	assert.Equal(t, 0, delivered)
	// The subscriber is not dropped as a result of the failed send.
	assert.True(t, s.IsSubscribed(sub))
}

var assertErr = &CommandError{Text: "boom"}
