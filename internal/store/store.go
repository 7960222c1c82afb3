// Package store implements the kvresp data model: string/list/stream
// entries with lazy expiry, plus the pub/sub subscriber index.
//
// A single mutex (mu) guards every key/value map and every stream body.
// The pub/sub index has its own, separate mutex
// (pubsubMu). Blocking coordination lives in the sibling blocking package;
// Store only performs the producer-side handoff through a Notifier
// it is constructed with.
package store

import (
	"container/list"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Notifier is the minimal surface Store needs from the blocking registry
// to hand an element or stream entry to a parked waiter. Implemented by
// *blocking.Registry; kept as an interface here so store has no import
// dependency on blocking (store is the lower layer).
type Notifier interface {
	// PopListWaiter removes and returns the head waiter blocked on key, or
	// nil if none is queued. Called with the store's data mutex held.
	PopListWaiter(key string) ListWaiter
	// PopStreamWaiter removes and returns the head waiter blocked on key,
	// or nil if none is queued. Called with the store's data mutex held.
	PopStreamWaiter(key string) StreamWaiter
}

// ListWaiter is the subset of a parked BLPOP waiter the store needs in
// order to hand off a popped element.
type ListWaiter interface {
	DeliverList(key, element string)
}

// StreamWaiter is the subset of a parked XREAD BLOCK waiter the store
// needs in order to hand off a newly appended entry.
type StreamWaiter interface {
	DeliverStream(key string, id string, fields [][2]string)
}

// Store holds all keyed entries plus the pub/sub subscriber index.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	pubsubMu    sync.Mutex
	channels    map[string]map[*Subscriber]struct{} // channel -> subscribers
	subscribers map[*Subscriber]map[string]struct{} // subscriber -> channels

	notifier Notifier

	now func() time.Time // overridable for tests
}

// New builds an empty Store. notifier may be nil in tests that don't
// exercise blocking handoff.
func New(notifier Notifier) *Store {
	return &Store{
		entries:     make(map[string]*entry),
		channels:    make(map[string]map[*Subscriber]struct{}),
		subscribers: make(map[*Subscriber]map[string]struct{}),
		notifier:    notifier,
		now:         time.Now,
	}
}

func (s *Store) nowMS() int64 {
	return s.now().UnixMilli()
}

// lookupLocked returns the live (non-expired) entry for key, deleting it
// first if it has expired. Must be called with mu held.
func (s *Store) lookupLocked(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expiryMS != 0 && s.nowMS() >= e.expiryMS {
		delete(s.entries, key)
		return nil
	}
	return e
}

// ---- generic ----

// Del removes the given keys and returns how many actually existed.
func (s *Store) Del(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, k := range keys {
		if s.lookupLocked(k) != nil {
			delete(s.entries, k)
			count++
		}
	}
	return count
}

// Type returns the TYPE response text for key: "string", "list",
// "stream", or "none" if absent/expired.
func (s *Store) Type(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e == nil {
		return "none"
	}
	return e.kind.String()
}

// Keys returns all live keys matching pattern, which must be either "*"
// (all keys) or an exact literal key.
func (s *Store) Keys(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pattern == "*" {
		out := make([]string, 0, len(s.entries))
		for k := range s.entries {
			if s.lookupLocked(k) != nil {
				out = append(out, k)
			}
		}
		return out
	}

	if s.lookupLocked(pattern) != nil {
		return []string{pattern}
	}
	return nil
}

// ---- strings ----

// SetOptions carries the optional EX/PX modifiers for SET.
type SetOptions struct {
	ExpireAtMS int64 // absolute deadline in epoch ms, 0 = no expiry
}

// Set stores value as a string entry, replacing whatever was there
// (including any prior expiry — SET without options never preserves it).
func (s *Store) Set(key, value string, opts SetOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{kind: KindString, str: value, expiryMS: opts.ExpireAtMS}
}

// Get returns the string value for key, or (_, false) if absent/expired,
// or ErrWrongType if key holds a different kind.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != KindString {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

// IncrBy adds delta to the integer value of key (treating a missing key
// as 0), stores the new value as its decimal string, and returns it.
func (s *Store) IncrBy(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	var current int64
	if e != nil {
		if e.kind != KindString {
			return 0, ErrWrongType
		}
		v, err := strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = v
	}

	next, overflow := addOverflowing(current, delta)
	if overflow {
		return 0, ErrNotInteger
	}

	s.entries[key] = &entry{kind: KindString, str: strconv.FormatInt(next, 10), expiryMS: entryExpiry(e)}
	return next, nil
}

func entryExpiry(e *entry) int64 {
	if e == nil {
		return 0
	}
	return e.expiryMS
}

// addOverflowing reports whether a+b overflows a signed 64-bit integer.
func addOverflowing(a, b int64) (sum int64, overflow bool) {
	sum = a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, true
	}
	return sum, false
}

// ---- list ----

// Push appends (RPUSH) or prepends (LPUSH) elements to the list at key,
// creating it if absent. It performs the full producer-side handoff to a
// parked BLPOP waiter: the returned size is always the post-insertion,
// pre-handoff count, computed before any waiter delivery.
func (s *Store) Push(key string, left bool, values ...string) (size int, err error) {
	s.mu.Lock()

	e := s.lookupLocked(key)
	if e == nil {
		e = &entry{kind: KindList, lst: list.New()}
		s.entries[key] = e
	} else if e.kind != KindList {
		s.mu.Unlock()
		return 0, ErrWrongType
	}

	for _, v := range values {
		if left {
			e.lst.PushFront(v)
		} else {
			e.lst.PushBack(v)
		}
	}
	size = e.lst.Len()

	var waiter ListWaiter
	var deliveredKey, deliveredElem string
	if s.notifier != nil {
		if w := s.notifier.PopListWaiter(key); w != nil {
			front := e.lst.Front()
			if front != nil {
				deliveredElem = front.Value.(string)
				e.lst.Remove(front)
				if e.lst.Len() == 0 {
					delete(s.entries, key) // 
				}
				waiter = w
				deliveredKey = key
			}
		}
	}

	s.mu.Unlock()

	if waiter != nil {
		waiter.DeliverList(deliveredKey, deliveredElem)
	}

	return size, nil
}

// PopOrEnqueueList is BLPOP's atomic fast-path-or-park step: under a
// single hold of the data mutex, it pops the list's head element if one
// is already available, or else calls enqueue (expected to register a
// waiter with the blocking registry) before the mutex is released.
// Combining the two this way closes the window a separate check-then-
// enqueue would leave open, during which a concurrent Push could insert
// and complete its handoff before any waiter was registered to receive
// it, stranding the element until a later, unrelated push arrived.
func (s *Store) PopOrEnqueueList(key string, enqueue func()) (element string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e != nil {
		if e.kind != KindList {
			return "", false, ErrWrongType
		}
		if front := e.lst.Front(); front != nil {
			v := front.Value.(string)
			e.lst.Remove(front)
			if e.lst.Len() == 0 {
				delete(s.entries, key)
			}
			return v, true, nil
		}
	}

	enqueue()
	return "", false, nil
}

// Pop removes and returns the first min(count, length) elements from the
// head of the list at key, head-to-tail order.
func (s *Store) Pop(key string, count int) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e == nil {
		return nil, false, nil
	}
	if e.kind != KindList {
		return nil, false, ErrWrongType
	}

	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		front := e.lst.Front()
		if front == nil {
			break
		}
		out = append(out, front.Value.(string))
		e.lst.Remove(front)
	}
	if e.lst.Len() == 0 {
		delete(s.entries, key)
	}
	return out, true, nil
}

// Len returns the length of the list at key (0 if absent).
func (s *Store) Len(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != KindList {
		return 0, ErrWrongType
	}
	return e.lst.Len(), nil
}

// Range returns the LRANGE [start, end] slice (inclusive, negative
// indices count from the tail), with out-of-range bounds clamped rather than erroring.
func (s *Store) Range(key string, start, end int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != KindList {
		return nil, ErrWrongType
	}

	length := e.lst.Len()
	all := make([]string, 0, length)
	for el := e.lst.Front(); el != nil; el = el.Next() {
		all = append(all, el.Value.(string))
	}

	start = normalizeIndex(start, length)
	end = normalizeIndex(end, length)
	if start > end || start >= length {
		return []string{}, nil
	}
	if start < 0 {
		start = 0
	}
	if end > length-1 {
		end = length - 1
	}
	if end < start {
		return []string{}, nil
	}
	return all[start : end+1], nil
}

func normalizeIndex(i, length int) int {
	if i < 0 {
		return length + i
	}
	return i
}

// ---- misc helpers shared by command handlers ----

// ParseTimeoutSeconds parses a BLPOP-style float seconds timeout ("0"
// means block forever).
func ParseTimeoutSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, ErrTimeoutNotFloat
	}
	if f == 0 {
		return 0, nil
	}
	return time.Duration(f * float64(time.Second)), nil
}

// ParseTimeoutMillis parses an XREAD BLOCK-style integer millisecond
// timeout ("0" means block forever).
func ParseTimeoutMillis(s string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms < 0 {
		return 0, ErrTimeoutNotInt
	}
	if ms == 0 {
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}
