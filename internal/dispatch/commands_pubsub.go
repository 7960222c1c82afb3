package dispatch

import (
	"kvresp/internal/store"
	"kvresp/internal/wire"
)

func cmdSubscribe(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	channel := string(args[0])
	count := d.Store.Subscribe(sess.sub, channel)
	_, _ = w.Write(wire.Array([][]byte{
		wire.BulkString([]byte("subscribe")),
		wire.BulkString([]byte(channel)),
		wire.Integer(int64(count)),
	}))
	return actionContinue
}

func cmdUnsubscribe(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 1 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	channel := string(args[0])
	count := d.Store.Unsubscribe(sess.sub, channel)
	_, _ = w.Write(wire.Array([][]byte{
		wire.BulkString([]byte("unsubscribe")),
		wire.BulkString([]byte(channel)),
		wire.Integer(int64(count)),
	}))
	return actionContinue
}

func cmdPublish(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action {
	if len(args) != 2 {
		d.writeCommandErr(w, cmd, store.WrongArgs(cmd))
		return actionContinue
	}
	channel, message := string(args[0]), string(args[1])
	payload := wire.Array([][]byte{
		wire.BulkString([]byte("message")),
		wire.BulkString([]byte(channel)),
		wire.BulkString([]byte(message)),
	})
	n := d.Store.Publish(channel, payload)
	_, _ = w.Write(wire.Integer(int64(n)))
	return actionContinue
}
