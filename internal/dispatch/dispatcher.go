// Package dispatch implements the per-connection command loop: decode one
// wire frame, route it to a command handler, write the response.
package dispatch

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kvresp/internal/blocking"
	"kvresp/internal/metrics"
	"kvresp/internal/store"
	"kvresp/internal/wire"
)

// readBufSize is the initial chunk size read per Conn.Read call; the
// session buffer grows as needed to hold a not-yet-complete frame.
const readBufSize = 4096

// Session is the per-connection state the dispatcher threads through
// every command: its pub/sub handle and subscribe-mode bit (derived from
// the store's own membership index — Session never tracks it independently).
type Session struct {
	sub *store.Subscriber
}

// Dispatcher routes decoded command frames to store operations.
type Dispatcher struct {
	Store    *store.Store
	Registry *blocking.Registry
	Metrics  *metrics.Registry
	Logger   *zap.Logger
	RDBDir   string
	RDBFile  string

	// Limiter, if non-nil, throttles commands processed on this
	// connection to a token-bucket rate (shared across all connections
	// when the same *rate.Limiter instance is reused, per-connection
	// when each Serve call gets its own).
	Limiter *rate.Limiter
}

// New builds a Dispatcher.
func New(s *store.Store, r *blocking.Registry, m *metrics.Registry, logger *zap.Logger, rdbDir, rdbFile string) *Dispatcher {
	return &Dispatcher{Store: s, Registry: r, Metrics: m, Logger: logger, RDBDir: rdbDir, RDBFile: rdbFile}
}

// connReader is the minimal surface Serve needs to read raw bytes.
type connReader interface {
	Read(p []byte) (int, error)
}

// connWriter is the minimal surface Serve needs to write response frames.
// Implementations must serialize concurrent writers (the dispatcher's own
// synchronous responses and a foreign goroutine's PUBLISH/BLPOP handoff).
type connWriter interface {
	Write(p []byte) (int, error)
}

// Serve runs the read-decode-dispatch loop for one connection until a read
// error (including EOF), a fatal framing error, or QUIT. It always removes
// the connection's pub/sub memberships before returning. Serve does not
// read while a BLPOP or XREAD BLOCK handler is parked, so a peer that
// disconnects meanwhile leaves its waiter queued until delivery or timeout.
func (d *Dispatcher) Serve(r connReader, w connWriter) {
	sess := &Session{}
	sess.sub = store.NewSubscriber(func(payload []byte) error {
		_, err := w.Write(payload)
		return err
	})

	defer d.Store.CleanupSubscriber(sess.sub)

	var buf bytes.Buffer
	chunk := make([]byte, readBufSize)

	for {
		for {
			elems, consumed, err := wire.Decode(buf.Bytes())
			if err == wire.ErrIncomplete {
				break
			}
			if err == wire.ErrMalformed {
				// Fatal to the connection; the frame boundary is lost.
				return
			}

			buf.Next(consumed)
			if d.execute(sess, w, elems) == actionClose {
				return
			}
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

type action int

const (
	actionContinue action = iota
	actionClose
)

// execute validates arity/shape, invokes the matching command, and writes
// the response. It never panics on malformed input — every failure mode
// becomes a wire error frame, except a truly empty frame which is ignored.
func (d *Dispatcher) execute(sess *Session, w connWriter, elems [][]byte) action {
	if len(elems) == 0 {
		return actionContinue
	}

	cmd := strings.ToUpper(string(elems[0]))
	args := elems[1:]

	if d.Store != nil && d.Store.IsSubscribed(sess.sub) && !subscribeModeAllowed(cmd) {
		d.writeErr(w, "Can't execute '"+cmd+"' when client is subscribed")
		d.countError(cmd)
		return actionContinue
	}

	handler, ok := commandTable[cmd]
	if !ok {
		d.writeErr(w, store.UnknownCommand(cmd).Error())
		d.countError(cmd)
		return actionContinue
	}

	if d.Limiter != nil {
		_ = d.Limiter.Wait(context.Background())
	}

	d.countCommand(cmd)
	return handler(d, sess, w, cmd, args)
}

func (d *Dispatcher) countCommand(cmd string) {
	if d.Metrics != nil {
		d.Metrics.CommandsTotal.WithLabelValues(cmd).Inc()
	}
}

func (d *Dispatcher) countError(cmd string) {
	if d.Metrics != nil {
		d.Metrics.CommandErrors.WithLabelValues(cmd).Inc()
	}
}

func (d *Dispatcher) writeErr(w connWriter, text string) {
	_, _ = w.Write(wire.Error(text))
}

func (d *Dispatcher) writeCommandErr(w connWriter, cmd string, err error) {
	d.countError(cmd)
	d.writeErr(w, err.Error())
}

// subscribeModeAllowed is the whitelist of commands a subscribed
// connection may still issue.
func subscribeModeAllowed(cmd string) bool {
	switch cmd {
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT":
		return true
	default:
		return false
	}
}

// handlerFunc is the signature every command table entry implements.
type handlerFunc func(d *Dispatcher, sess *Session, w connWriter, cmd string, args [][]byte) action

var commandTable map[string]handlerFunc

func init() {
	commandTable = map[string]handlerFunc{
		"PING":        cmdPing,
		"ECHO":        cmdEcho,
		"QUIT":        cmdQuit,
		"CONFIG":      cmdConfig,
		"SET":         cmdSet,
		"GET":         cmdGet,
		"DEL":         cmdDel,
		"INCR":        cmdIncr,
		"INCRBY":      cmdIncrBy,
		"TYPE":        cmdType,
		"KEYS":        cmdKeys,
		"LPUSH":       cmdLPush,
		"RPUSH":       cmdRPush,
		"LPOP":        cmdLPop,
		"LLEN":        cmdLLen,
		"LRANGE":      cmdLRange,
		"BLPOP":       cmdBLPop,
		"XADD":        cmdXAdd,
		"XRANGE":      cmdXRange,
		"XREAD":       cmdXRead,
		"SUBSCRIBE":   cmdSubscribe,
		"UNSUBSCRIBE": cmdUnsubscribe,
		"PUBLISH":     cmdPublish,
	}
}
