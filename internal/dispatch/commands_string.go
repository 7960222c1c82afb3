package dispatch

import (
	"strconv"
	"strings"
	"time"

	"kvresp/internal/store"
	"kvresp/internal/wire"
)

// cmdSet implements SET key value [EX seconds | PX milliseconds].
func cmdSet(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) < 2 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}

	key, value := string(args[0]), string(args[1])
	var opts store.SetOptions

	rest := args[2:]
	if len(rest) > 0 {
		if len(rest) != 2 {
			d.writeCommandErr(w, cmd, store.ErrSyntax)
			return actionContinue
		}
		modifier := strings.ToUpper(string(rest[0]))
		n, err := strconv.ParseInt(string(rest[1]), 10, 64)
		if err != nil {
			d.writeCommandErr(w, cmd, store.ErrSyntax)
			return actionContinue
		}
		now := time.Now()
		switch modifier {
		case "EX":
			opts.ExpireAtMS = now.Add(time.Duration(n) * time.Second).UnixMilli()
		case "PX":
			opts.ExpireAtMS = now.Add(time.Duration(n) * time.Millisecond).UnixMilli()
		default:
			d.writeCommandErr(w, cmd, store.ErrSyntax)
			return actionContinue
		}
	}

	d.Store.Set(key, value, opts)
	_, _ = w.Write(wire.SimpleString("OK"))
	return actionContinue
}

func cmdGet(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}

	v, ok, err := d.Store.Get(string(args[0]))
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	if !ok {
		_, _ = w.Write(wire.NullBulkString())
		return actionContinue
	}
	_, _ = w.Write(wire.BulkString([]byte(v)))
	return actionContinue
}

func cmdIncr(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	n, err := d.Store.IncrBy(string(args[0]), 1)
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	_, _ = w.Write(wire.Integer(n))
	return actionContinue
}

func cmdIncrBy(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 2 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		d.writeCommandErr(w, cmd, store.ErrNotInteger)
		return actionContinue
	}
	n, err := d.Store.IncrBy(string(args[0]), delta)
	if err != nil {
		d.writeCommandErr(w, cmd, err)
		return actionContinue
	}
	_, _ = w.Write(wire.Integer(n))
	return actionContinue
}
