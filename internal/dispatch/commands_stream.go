package dispatch

import (
	"strings"
	"time"

	"kvresp/internal/blocking"
	"kvresp/internal/store"
	"kvresp/internal/wire"
)

func cmdXAdd(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) < 4 || len(args)%2 != 0 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	key, idSpec := string(args[0]), string(args[1])

	rest := args[2:]
	fields := make([]store.Field, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		fields = append(fields, store.NewField(string(rest[i]), string(rest[i+1])))
	}

	id, err := d.Store.Append(key, idSpec, fields, time.Now().UnixMilli())
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	_, _ = w.Write(wire.BulkString([]byte(id)))
	return actionContinue
}

func cmdXRange(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 3 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	entries, err := d.Store.RangeStream(string(args[0]), string(args[1]), string(args[2]))
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	_, _ = w.Write(wire.Array(encodeStreamEntries(entries)))
	return actionContinue
}

// cmdXRead implements XREAD [BLOCK ms] STREAMS key [key ...] id [id ...].
// BLOCK only accepts a single stream key; the non-blocking form accepts
// any number of key/id pairs and reports a result for every key that has
// at least one strictly-greater entry.
func cmdXRead(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	var blockMS string
	hasBlock := false
	i := 0
	if len(args) >= 2 && strings.ToUpper(string(args[0])) == "BLOCK" {
		blockMS = string(args[1])
		hasBlock = true
		i = 2
	}
	if i >= len(args) || strings.ToUpper(string(args[i])) != "STREAMS" {
		d.writeCommandErr(w, cmd, store.ErrSyntax)
		return actionContinue
	}
	rest := args[i+1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		d.writeCommandErr(w, cmd, store.ErrSyntax)
		return actionContinue
	}
	n := len(rest) / 2
	if hasBlock && n != 1 {
		d.writeCommandErr(w, cmd, store.ErrSyntax)
		return actionContinue
	}

	if hasBlock {
		return xReadBlock(d, w, cmd, string(rest[0]), string(rest[1]), blockMS)
	}

	var results []keyedStreamEntries
	for k := 0; k < n; k++ {
		key := string(rest[k])
		idSpec := string(rest[n+k])
		if idSpec == "$" {
			idSpec = d.Store.TailID(key)
		}
		entries, err := d.Store.ReadAfter(key, idSpec)
		if err != nil {
			d.writeCommandErr(w, cmd, err)
			return actionContinue
		}
		if len(entries) > 0 {
			results = append(results, keyedStreamEntries{key: key, entries: entries})
		}
	}
	if len(results) == 0 {
		_, _ = w.Write(wire.EmptyArray())
		return actionContinue
	}
	_, _ = w.Write(encodeXReadResult(results))
	return actionContinue
}

// xReadBlock implements the single-key BLOCK form. The fast-path read and
// the waiter registration happen as one atomic step under the store's data
// mutex (Store.ReadAfterOrEnqueue), so a concurrent XADD can never land in
// the window between "nothing to read yet" and "waiter registered" and be
// lost to this reader.
func xReadBlock(d *Dispatcher, w connWriter, cmd, key, idSpec, blockMS string) action {
	if idSpec == "$" {
		idSpec = d.Store.TailID(key)
	}

	timeout, err := store.ParseTimeoutMillis(blockMS)
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}

	var waiter *blocking.StreamWaiter
	entries, err := d.Store.ReadAfterOrEnqueue(key, idSpec, func() {
		waiter = d.Registry.EnqueueStream(key, func(k, id string, fields [][2]string) {
			_, _ = w.Write(encodeXReadResult([]keyedStreamEntries{{key: k, entries: []store.StreamEntryView{{ID: id, Fields: fields}}}}))
		})
	})
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	if len(entries) > 0 {
		_, _ = w.Write(encodeXReadResult([]keyedStreamEntries{{key: key, entries: entries}}))
		return actionContinue
	}

	if blocking.WaitWithTimeout(waiter.Waiter, timeout) {
		return actionContinue
	}

	d.Registry.RemoveStream(waiter)
	_, _ = w.Write(wire.NullArray())
	return actionContinue
}

func encodeStreamEntries(entries []store.StreamEntryView) [][]byte {
	out := make([][]byte, len(entries))
	for i, e := range entries {
		fieldItems := make([][]byte, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fieldItems = append(fieldItems, wire.BulkString([]byte(f[0])), wire.BulkString([]byte(f[1])))
		}
		out[i] = wire.Array([][]byte{
			wire.BulkString([]byte(e.ID)),
			wire.Array(fieldItems),
		})
	}
	return out
}

// keyedStreamEntries pairs a stream key with the entries XREAD found for
// it; only keys with at least one entry are ever included in a result.
type keyedStreamEntries struct {
	key     string
	entries []store.StreamEntryView
}

// encodeXReadResult builds the "mapping from key to entries" shape:
// [[key, [[id, [field value...]], ...]], ...], one element per key present
// in results.
func encodeXReadResult(results []keyedStreamEntries) []byte {
	items := make([][]byte, len(results))
	for i, r := range results {
		items[i] = wire.Array([][]byte{
			wire.BulkString([]byte(r.key)),
			wire.Array(encodeStreamEntries(r.entries)),
		})
	}
	return wire.Array(items)
}
