package dispatch

import (
	"strings"

	"kvresp/internal/store"
	"kvresp/internal/wire"
)

func cmdPing(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if d.Store.IsSubscribed(sess.sub) {
		_, _ = w.Write(wire.Array([][]byte{
			wire.BulkString([]byte("pong")),
			wire.BulkString([]byte("")),
		}))
		return actionContinue
	}
	if len(args) == 1 {
		_, _ = w.Write(wire.BulkString(args[0]))
		return actionContinue
	}
	_, _ = w.Write(wire.SimpleString("PONG"))
	return actionContinue
}

func cmdEcho(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	_, _ = w.Write(wire.BulkString(args[0]))
	return actionContinue
}

func cmdQuit(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	_, _ = w.Write(wire.SimpleString("OK"))
	return actionClose
}

// cmdConfig implements CONFIG GET <param>. Unknown parameters echo back
// as [param, ""] rather than an empty array.
func cmdConfig(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 2 || strings.ToUpper(string(args[0])) != "GET" {
		d.writeCommandErr(w, cmd, store.ErrSyntax)
		return actionContinue
	}

	param := string(args[1])
	var value string
	switch param {
	case "dir":
		value = d.RDBDir
	case "dbfilename":
		value = d.RDBFile
	default:
		value = ""
	}

	_, _ = w.Write(wire.Array([][]byte{
		wire.BulkString([]byte(param)),
		wire.BulkString([]byte(value)),
	}))
	return actionContinue
}

func cmdDel(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) < 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = string(a)
	}
	n := d.Store.Del(keys...)
	_, _ = w.Write(wire.Integer(int64(n)))
	return actionContinue
}

func cmdType(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	_, _ = w.Write(wire.SimpleString(d.Store.Type(string(args[0]))))
	return actionContinue
}

func cmdKeys(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	keys := d.Store.Keys(string(args[0]))
	items := make([][]byte, len(keys))
	for i, k := range keys {
		items[i] = wire.BulkString([]byte(k))
	}
	_, _ = w.Write(wire.Array(items))
	return actionContinue
}
