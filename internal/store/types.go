package store

import (
	"container/list"
	"fmt"
)

// Kind tags the shape of an entry's value.
type Kind int

const (
	// KindString holds an opaque UTF-8 byte sequence.
	KindString Kind = iota
	// KindList holds an ordered sequence of byte-string elements.
	KindList
	// KindStream holds an append-only ordered sequence of stream entries.
	KindStream
)

// String renders the kind the way TYPE responds on the wire.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// entry is the store's internal representation of one key's value plus its
// optional expiry deadline.
type entry struct {
	kind Kind

	str string
	lst *list.List // element type: string

	stream *streamValue

	// expiryMS is the absolute deadline in epoch milliseconds, or 0 for
	// no expiry.
	expiryMS int64
}

// streamID is the (ms, seq) pair rendered as "<ms>-<seq>".
type streamID struct {
	ms  int64
	seq int64
}

func (id streamID) String() string {
	return fmt.Sprintf("%d-%d", id.ms, id.seq)
}

func (id streamID) isZero() bool {
	return id.ms == 0 && id.seq == 0
}

// compare returns -1, 0, or 1 comparing id to other lexicographically by (ms, seq).
func (id streamID) compare(other streamID) int {
	if id.ms != other.ms {
		if id.ms < other.ms {
			return -1
		}
		return 1
	}
	if id.seq != other.seq {
		if id.seq < other.seq {
			return -1
		}
		return 1
	}
	return 0
}

// Field is one ordered (name, value) pair of a stream entry. Exported so
// callers outside the package (the dispatcher, parsing raw wire
// arguments) can build field lists to pass to Append.
type Field struct {
	name  string
	value string
}

// streamEntry is one appended (id, fields) record.
type streamEntry struct {
	id     streamID
	fields []Field
}

// streamValue is the full body of a stream-kind entry: its ordered
// entries and the last-assigned id.
type streamValue struct {
	entries []streamEntry
	lastID  streamID
}
