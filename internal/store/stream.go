package store

import (
	"strconv"
	"strings"
)

// partialStreamID is a client-supplied id as parsePartialStreamID reads it
// from the three shapes XADD accepts: "*", "<ms>-*", and "<ms>-<seq>" (a
// bare "<ms>" is also accepted, as seq 0). It does not resolve "*"/"<ms>-*"
// against the stream's last id; that happens in Append, which holds the
// lock the comparison needs to be atomic with the append.
type partialStreamID struct {
	wildcard     bool // "*"
	ms           int64
	seqWildcard  bool // "<ms>-*"
	seq          int64
}

func parsePartialStreamID(raw string) (partialStreamID, error) {
	if raw == "*" {
		return partialStreamID{wildcard: true}, nil
	}

	parts := strings.SplitN(raw, "-", 2)
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return partialStreamID{}, ErrSyntax
	}
	if len(parts) == 1 {
		return partialStreamID{ms: ms}, nil
	}
	if parts[1] == "*" {
		return partialStreamID{ms: ms, seqWildcard: true}, nil
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return partialStreamID{}, ErrSyntax
	}
	return partialStreamID{ms: ms, seq: seq}, nil
}

// Append implements XADD. idSpec is the raw client
// id argument ("*", "<ms>-*", or "<ms>-<seq>"). On success it returns the
// assigned id's wire string and performs the producer-side handoff to a
// single parked XREAD BLOCK waiter, if any.
func (s *Store) Append(key, idSpec string, fields []Field, nowMS int64) (string, error) {
	partial, err := parsePartialStreamID(idSpec)
	if err != nil {
		return "", err
	}

	s.mu.Lock()

	e := s.lookupLocked(key)
	if e == nil {
		e = &entry{kind: KindStream, stream: &streamValue{}}
		s.entries[key] = e
	} else if e.kind != KindStream {
		s.mu.Unlock()
		return "", ErrWrongType
	}

	last := e.stream.lastID
	var assigned streamID

	switch {
	case partial.wildcard:
		if nowMS > last.ms {
			assigned = streamID{ms: nowMS, seq: 0}
		} else {
			assigned = streamID{ms: last.ms, seq: last.seq + 1}
		}
	case partial.seqWildcard:
		switch {
		case partial.ms > last.ms:
			assigned = streamID{ms: partial.ms, seq: 0}
		case partial.ms == last.ms:
			assigned = streamID{ms: partial.ms, seq: last.seq + 1}
		default:
			s.mu.Unlock()
			return "", ErrXAddNotGreater
		}
	default:
		candidate := streamID{ms: partial.ms, seq: partial.seq}
		if candidate.isZero() {
			s.mu.Unlock()
			return "", ErrXAddMustBeGreaterThanZero
		}
		if !last.isZero() && candidate.compare(last) <= 0 {
			s.mu.Unlock()
			return "", ErrXAddNotGreater
		}
		assigned = candidate
	}

	e.stream.lastID = assigned
	e.stream.entries = append(e.stream.entries, streamEntry{id: assigned, fields: fields})

	var waiter StreamWaiter
	if s.notifier != nil {
		if w := s.notifier.PopStreamWaiter(key); w != nil {
			waiter = w
		}
	}

	s.mu.Unlock()

	if waiter != nil {
		waiter.DeliverStream(key, assigned.String(), fieldsToPairs(fields))
	}

	return assigned.String(), nil
}

// StreamEntryView is the consumer-facing shape of one appended record.
type StreamEntryView struct {
	ID     string
	Fields [][2]string
}

func fieldsToPairs(fields []Field) [][2]string {
	out := make([][2]string, len(fields))
	for i, f := range fields {
		out[i] = [2]string{f.name, f.value}
	}
	return out
}

// RangeStream implements XRANGE: start="-" and end="+" are open bounds; a bare
// "<ms>" without "-seq" is treated as "<ms>-0" on the low side.
func (s *Store) RangeStream(key, startRaw, endRaw string) ([]StreamEntryView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != KindStream {
		return nil, ErrWrongType
	}

	var lo, hi streamID
	var hasLo, hasHi bool
	if startRaw != "-" {
		p, err := parsePartialStreamID(startRaw)
		if err != nil {
			return nil, err
		}
		lo = streamID{ms: p.ms, seq: p.seq}
		hasLo = true
	}
	if endRaw != "+" {
		p, err := parsePartialStreamID(endRaw)
		if err != nil {
			return nil, err
		}
		hi = streamID{ms: p.ms, seq: p.seq}
		hasHi = true
	}

	var out []StreamEntryView
	for _, se := range e.stream.entries {
		if hasLo && se.id.compare(lo) < 0 {
			continue
		}
		if hasHi && se.id.compare(hi) > 0 {
			continue
		}
		out = append(out, StreamEntryView{ID: se.id.String(), Fields: fieldsToPairs(se.fields)})
	}
	return out, nil
}

// TailID returns the current last-assigned id of the stream at key (the
// zero id if the stream is absent or empty), used to resolve XREAD's "$".
func (s *Store) TailID(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e == nil || e.kind != KindStream {
		return "0-0"
	}
	return e.stream.lastID.String()
}

// readAfterLocked returns every entry of e with id strictly greater than
// afterRaw. Must be called with mu held. e may be nil (stream not yet
// created), in which case the result is always empty, but a malformed
// afterRaw is still reported.
func (s *Store) readAfterLocked(e *entry, afterRaw string) ([]StreamEntryView, error) {
	p, err := parsePartialStreamID(afterRaw)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	after := streamID{ms: p.ms, seq: p.seq}

	var out []StreamEntryView
	for _, se := range e.stream.entries {
		if se.id.compare(after) > 0 {
			out = append(out, StreamEntryView{ID: se.id.String(), Fields: fieldsToPairs(se.fields)})
		}
	}
	return out, nil
}

// ReadAfter returns every entry of the stream at key with id strictly
// greater than afterRaw, used by the non-blocking and wake-resolution
// paths of XREAD.
func (s *Store) ReadAfter(key, afterRaw string) ([]StreamEntryView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e != nil && e.kind != KindStream {
		return nil, ErrWrongType
	}
	return s.readAfterLocked(e, afterRaw)
}

// ReadAfterOrEnqueue is XREAD BLOCK's atomic fast-path-or-park step:
// under a single hold of the data mutex, it collects every entry
// strictly greater than afterRaw if any already exist, or else calls
// enqueue (expected to register a stream waiter with the blocking
// registry) before the mutex is released. Combining the two this way
// closes the window a separate check-then-enqueue would leave open,
// during which a concurrent Append could complete its handoff before any
// waiter was registered to receive it, losing the entry for this reader.
func (s *Store) ReadAfterOrEnqueue(key, afterRaw string, enqueue func()) ([]StreamEntryView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key)
	if e != nil && e.kind != KindStream {
		return nil, ErrWrongType
	}
	out, err := s.readAfterLocked(e, afterRaw)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	enqueue()
	return nil, nil
}

// NewField constructs a field pair for callers outside the package
// (the dispatcher, which parses raw wire arguments).
func NewField(name, value string) Field {
	return Field{name: name, value: value}
}
