// Package blocking implements the per-key waiter queues that back BLPOP
// and XREAD BLOCK. A Registry holds two independent FIFO queues per
// key — one for list waiters, one for stream waiters — each guarded by the
// registry's own mutex, distinct from the store's data mutex.
package blocking

import (
	"container/list"
	"sync"
	"time"

	"kvresp/internal/store"
)

// Waiter is a parked blocking request. It is signalled at most once:
// when a producer delivers to it, the response has already been written
// to the connection by the time ready closes.
type Waiter struct {
	Key string

	mu        sync.Mutex
	delivered bool
	ready     chan struct{}

	// The producer writes the response through the write callback held
	// by ListWaiter/StreamWaiter before signalling; the parked handler
	// only needs to observe ready and resume — it must not write anything
	// further itself.
}

// NewWaiter builds an unsignalled waiter for key.
func NewWaiter(key string) *Waiter {
	return &Waiter{Key: key, ready: make(chan struct{})}
}

// Ready returns the channel that closes exactly once, when the waiter is
// delivered to or times out. Callers select on it alongside a timer.
func (w *Waiter) Ready() <-chan struct{} {
	return w.ready
}

// markDelivered flips the single-shot delivered flag and closes ready.
// Returns false if it was already delivered; WaitWithTimeout relies on
// this to tell that a producer claimed the waiter before the timeout did.
func (w *Waiter) markDelivered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.delivered {
		return false
	}
	w.delivered = true
	close(w.ready)
	return true
}

// ListWaiter adapts a Waiter into the store.ListWaiter interface: the
// producer passes the key and element to the write callback, which encodes
// and sends the response, before signalling.
type ListWaiter struct {
	*Waiter
	Element string
	write   func(key, element string)
	elem    *list.Element
}

// DeliverList implements store.ListWaiter: write the handoff payload to
// the parked connection's sink, then signal exactly once.
func (lw *ListWaiter) DeliverList(key, element string) {
	lw.Element = element
	if lw.write != nil {
		lw.write(key, element)
	}
	lw.markDelivered()
}

// StreamWaiter adapts a Waiter into the store.StreamWaiter interface.
type StreamWaiter struct {
	*Waiter
	ID     string
	Fields [][2]string
	write  func(key, id string, fields [][2]string)
	elem   *list.Element
}

// DeliverStream implements store.StreamWaiter.
func (sw *StreamWaiter) DeliverStream(key, id string, fields [][2]string) {
	sw.ID = id
	sw.Fields = fields
	if sw.write != nil {
		sw.write(key, id, fields)
	}
	sw.markDelivered()
}

// Registry holds the two per-key FIFO waiter queues.
type Registry struct {
	mu            sync.Mutex
	listWaiters   map[string]*list.List // element type: *ListWaiter
	streamWaiters map[string]*list.List // element type: *StreamWaiter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		listWaiters:   make(map[string]*list.List),
		streamWaiters: make(map[string]*list.List),
	}
}

// EnqueueList adds a new list waiter to the tail of key's queue. write is
// called by the producer with the key and the handed-off element at
// delivery time; it must encode the response and perform the socket write.
func (r *Registry) EnqueueList(key string, write func(key, element string)) *ListWaiter {
	w := &ListWaiter{Waiter: NewWaiter(key), write: write}

	r.mu.Lock()
	if r.listWaiters[key] == nil {
		r.listWaiters[key] = list.New()
	}
	el := r.listWaiters[key].PushBack(w)
	r.mu.Unlock()

	w.elem = el
	return w
}

// EnqueueStream adds a new stream waiter to the tail of key's queue.
func (r *Registry) EnqueueStream(key string, write func(key, id string, fields [][2]string)) *StreamWaiter {
	w := &StreamWaiter{Waiter: NewWaiter(key), write: write}

	r.mu.Lock()
	if r.streamWaiters[key] == nil {
		r.streamWaiters[key] = list.New()
	}
	el := r.streamWaiters[key].PushBack(w)
	r.mu.Unlock()

	w.elem = el
	return w
}

// PopListWaiter implements store.Notifier: remove and return the head
// list waiter for key, or nil if none is queued. Safe to call while the
// store's data mutex is held (registry mutex nests inside it, ahead of
// the waiter's own condition).
func (r *Registry) PopListWaiter(key string) store.ListWaiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.listWaiters[key]
	if q == nil || q.Len() == 0 {
		return nil
	}
	front := q.Front()
	q.Remove(front)
	if q.Len() == 0 {
		delete(r.listWaiters, key)
	}
	w := front.Value.(*ListWaiter)
	w.elem = nil
	return w
}

// PopStreamWaiter implements store.Notifier for streams.
func (r *Registry) PopStreamWaiter(key string) store.StreamWaiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.streamWaiters[key]
	if q == nil || q.Len() == 0 {
		return nil
	}
	front := q.Front()
	q.Remove(front)
	if q.Len() == 0 {
		delete(r.streamWaiters, key)
	}
	w := front.Value.(*StreamWaiter)
	w.elem = nil
	return w
}

// RemoveList removes w from its queue, e.g. on timeout or disconnect. A
// no-op if it was already popped by a producer.
func (r *Registry) RemoveList(w *ListWaiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.listWaiters[w.Key]
	if q == nil || w.elem == nil {
		return
	}
	q.Remove(w.elem)
	w.elem = nil
	if q.Len() == 0 {
		delete(r.listWaiters, w.Key)
	}
}

// RemoveStream removes w from its queue.
func (r *Registry) RemoveStream(w *StreamWaiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.streamWaiters[w.Key]
	if q == nil || w.elem == nil {
		return
	}
	q.Remove(w.elem)
	w.elem = nil
	if q.Len() == 0 {
		delete(r.streamWaiters, w.Key)
	}
}

// Count returns the total number of parked waiters across both queues,
// used for the kvresp_blocked_waiters metric.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, q := range r.listWaiters {
		n += q.Len()
	}
	for _, q := range r.streamWaiters {
		n += q.Len()
	}
	return n
}

// WaitWithTimeout blocks until w is delivered or deadline elapses (zero
// deadline means block forever). It returns true if delivered before the
// deadline.
//
// A producer signalling concurrently with the timer firing is resolved by
// re-checking the single-shot delivered flag rather than trusting which
// select case the runtime happened to pick: if markDelivered still
// succeeds, the timeout genuinely won the race and the caller must remove
// the waiter and reply with the timeout frame; if it fails, a producer
// already claimed the waiter and wrote the real response, so the caller
// must not write anything further: at most one signal ever reaches the
// caller, and by the time it fires the response is already on the wire.
func WaitWithTimeout(w *Waiter, timeout time.Duration) bool {
	if timeout <= 0 {
		<-w.Ready()
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.Ready():
		return true
	case <-timer.C:
		return !w.markDelivered()
	}
}
