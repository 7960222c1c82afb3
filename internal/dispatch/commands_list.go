package dispatch

import (
	"strconv"

	"kvresp/internal/blocking"
	"kvresp/internal/store"
	"kvresp/internal/wire"
)

func cmdLPush(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	return pushCommand(d, w, cmd, args, true)
}

func cmdRPush(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	return pushCommand(d, w, cmd, args, false)
}

func pushCommand(d *Dispatcher, w connWriter, cmd string, args [][]byte, left bool) action {
	if len(args) < 2 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	key := string(args[0])
	values := make([]string, len(args)-1)
	for i, a := range args[1:] {
		values[i] = string(a)
	}
	n, err := d.Store.Push(key, left, values...)
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	_, _ = w.Write(wire.Integer(int64(n)))
	return actionContinue
}

// cmdLPop implements LPOP key [count]: a bare call returns a single bulk
// string (null if the key is absent or empty); a count argument always
// returns an array (null array if the key was absent).
func cmdLPop(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 && len(args) != 2 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	key := string(args[0])

	if len(args) == 1 {
		out, ok, err := d.Store.Pop(key, 1)
		if err != nil {
			d.writeCommandErr(w, cmd, err)
			return actionContinue
		}
		if !ok || len(out) == 0 {
			_, _ = w.Write(wire.NullBulkString())
			return actionContinue
		}
		_, _ = w.Write(wire.BulkString([]byte(out[0])))
		return actionContinue
	}

	count, err := strconv.Atoi(string(args[1]))
	if err != nil || count < 0 {
		d.writeCommandErr(w, cmd, store.ErrNotInteger)
		return actionContinue
	}
	out, ok, err := d.Store.Pop(key, count)
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	if !ok {
		_, _ = w.Write(wire.NullArray())
		return actionContinue
	}
	items := make([][]byte, len(out))
	for i, v := range out {
		items[i] = wire.BulkString([]byte(v))
	}
	_, _ = w.Write(wire.Array(items))
	return actionContinue
}

func cmdLLen(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	n, err := d.Store.Len(string(args[0]))
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	_, _ = w.Write(wire.Integer(int64(n)))
	return actionContinue
}

func cmdLRange(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 3 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		d.writeCommandErr(w, cmd, store.ErrNotInteger)
		return actionContinue
	}
	out, err := d.Store.Range(string(args[0]), start, end)
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	items := make([][]byte, len(out))
	for i, v := range out {
		items[i] = wire.BulkString([]byte(v))
	}
	_, _ = w.Write(wire.Array(items))
	return actionContinue
}

// cmdBLPop implements BLPOP key timeout. A single key is accepted. The
// fast-path pop and the waiter registration happen as one atomic step
// under the store's data mutex (Store.PopOrEnqueueList), so a concurrent
// RPUSH/LPUSH can never land in the window between "list empty" and
// "waiter registered" and be stranded unclaimed.
func cmdBLPop(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 2 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	key := string(args[0])
	timeout, err := store.ParseTimeoutSeconds(string(args[1]))
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}

	var waiter *blocking.ListWaiter
	elem, ok, err := d.Store.PopOrEnqueueList(key, func() {
		waiter = d.Registry.EnqueueList(key, func(k, element string) {
			_, _ = w.Write(wire.Array([][]byte{wire.BulkString([]byte(k)), wire.BulkString([]byte(element))}))
		})
	})
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	if ok {
		_, _ = w.Write(wire.Array([][]byte{wire.BulkString([]byte(key)), wire.BulkString([]byte(elem))}))
		return actionContinue
	}

	if blocking.WaitWithTimeout(waiter.Waiter, timeout) {
		return actionContinue
	}

	d.Registry.RemoveList(waiter)
	_, _ = w.Write(wire.NullArray())
	return actionContinue
}
