package blocking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndPopListWaiterFIFO(t *testing.T) {
	r := NewRegistry()

	var deliveries []string
	w1 := r.EnqueueList("k", func(key, elem string) { deliveries = append(deliveries, "w1:"+elem) })
	w2 := r.EnqueueList("k", func(key, elem string) { deliveries = append(deliveries, "w2:"+elem) })

	assert.Equal(t, 2, r.Count())

	got := r.PopListWaiter("k")
	require.NotNil(t, got)
	got.DeliverList("k", "x")
	assert.Equal(t, []string{"w1:x"}, deliveries)
	assert.True(t, w1.delivered)

	got = r.PopListWaiter("k")
	require.NotNil(t, got)
	got.DeliverList("k", "y")
	assert.Equal(t, []string{"w1:x", "w2:y"}, deliveries)
	assert.True(t, w2.delivered)

	assert.Nil(t, r.PopListWaiter("k"))
	assert.Equal(t, 0, r.Count())
}

func TestRemoveListOnTimeout(t *testing.T) {
	r := NewRegistry()
	w := r.EnqueueList("k", func(string, string) {})
	assert.Equal(t, 1, r.Count())

	r.RemoveList(w)
	assert.Equal(t, 0, r.Count())

	// Removing twice is a harmless no-op.
	r.RemoveList(w)
	assert.Equal(t, 0, r.Count())
}

func TestWaiterSignalledAtMostOnce(t *testing.T) {
	w := NewWaiter("k")
	assert.True(t, w.markDelivered())
	assert.False(t, w.markDelivered())
}

func TestWaitWithTimeoutDeliveredBeforeDeadline(t *testing.T) {
	w := NewWaiter("k")
	go func() {
		time.Sleep(5 * time.Millisecond)
		w.markDelivered()
	}()

	ok := WaitWithTimeout(w, 500*time.Millisecond)
	assert.True(t, ok)
}

func TestWaitWithTimeoutExpires(t *testing.T) {
	w := NewWaiter("k")
	ok := WaitWithTimeout(w, 5*time.Millisecond)
	assert.False(t, ok)
}

func TestStreamWaiterFIFOAndDelivery(t *testing.T) {
	r := NewRegistry()
	var gotID string
	w := r.EnqueueStream("s", func(key, id string, fields [][2]string) { gotID = id })

	popped := r.PopStreamWaiter("s")
	require.NotNil(t, popped)
	popped.DeliverStream("s", "5-0", [][2]string{{"f", "v"}})
	assert.Equal(t, "5-0", gotID)
	assert.True(t, w.delivered)
}
