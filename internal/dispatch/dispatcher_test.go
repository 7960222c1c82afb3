package dispatch

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kvresp/internal/blocking"
	"kvresp/internal/store"
)

// newTestDispatcher wires a Dispatcher over an in-memory net.Pipe so
// Serve's read/decode/dispatch loop can be exercised end-to-end without a
// real socket.
func newTestDispatcher(t *testing.T) (client net.Conn, done chan struct{}) {
	t.Helper()
	registry := blocking.NewRegistry()
	st := store.New(registry)
	return newTestConn(t, st, registry)
}

// newTestConn wires another connection's Dispatcher onto an already
// existing store/registry pair, used to exercise cross-connection
// producer/waiter handoff.
func newTestConn(t *testing.T, st *store.Store, registry *blocking.Registry) (client net.Conn, done chan struct{}) {
	t.Helper()
	d := New(st, registry, nil, zap.NewNop(), ".", "dump.rdb")

	client, server := net.Pipe()
	done = make(chan struct{})
	go func() {
		d.Serve(server, server)
		close(done)
	}()
	return client, done
}

func sendCommand(t *testing.T, conn net.Conn, args ...string) {
	t.Helper()
	buf := "*" + strconv.Itoa(len(args)) + "\r\n"
	for _, a := range args {
		buf += "$" + strconv.Itoa(len(a)) + "\r\n" + a + "\r\n"
	}
	_, err := conn.Write([]byte(buf))
	require.NoError(t, err)
}

func readResponse(t *testing.T, conn net.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestDispatcherSetAndGet(t *testing.T) {
	client, done := newTestDispatcher(t)
	defer client.Close()

	sendCommand(t, client, "SET", "foo", "bar")
	assert.Equal(t, "+OK\r\n", readResponse(t, client))

	sendCommand(t, client, "GET", "foo")
	assert.Equal(t, "$3\r\nbar\r\n", readResponse(t, client))

	sendCommand(t, client, "GET", "missing")
	assert.Equal(t, "$-1\r\n", readResponse(t, client))

	sendCommand(t, client, "QUIT")
	assert.Equal(t, "+OK\r\n", readResponse(t, client))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after QUIT")
	}
}

func TestDispatcherUnknownCommand(t *testing.T) {
	client, _ := newTestDispatcher(t)
	defer client.Close()

	sendCommand(t, client, "FROBNICATE")
	resp := readResponse(t, client)
	assert.Contains(t, resp, "-unknown command")
}

func TestDispatcherWrongArity(t *testing.T) {
	client, _ := newTestDispatcher(t)
	defer client.Close()

	sendCommand(t, client, "SET", "onlykey")
	resp := readResponse(t, client)
	assert.Contains(t, resp, "-wrong number of arguments")
}

func TestDispatcherListRoundTrip(t *testing.T) {
	client, _ := newTestDispatcher(t)
	defer client.Close()

	sendCommand(t, client, "RPUSH", "mylist", "a", "b", "c")
	assert.Equal(t, ":3\r\n", readResponse(t, client))

	sendCommand(t, client, "LRANGE", "mylist", "0", "-1")
	resp := readResponse(t, client)
	assert.Contains(t, resp, "*3\r\n")
	assert.Contains(t, resp, "a")
	assert.Contains(t, resp, "b")
	assert.Contains(t, resp, "c")
}

func TestDispatcherSubscribeModeWhitelist(t *testing.T) {
	client, _ := newTestDispatcher(t)
	defer client.Close()

	sendCommand(t, client, "SUBSCRIBE", "news")
	resp := readResponse(t, client)
	assert.Contains(t, resp, "subscribe")
	assert.Contains(t, resp, "news")

	sendCommand(t, client, "GET", "foo")
	resp = readResponse(t, client)
	assert.Contains(t, resp, "subscribed")

	sendCommand(t, client, "UNSUBSCRIBE", "news")
	resp = readResponse(t, client)
	assert.Contains(t, resp, "unsubscribe")
}

func TestDispatcherBLPopFastPath(t *testing.T) {
	client, _ := newTestDispatcher(t)
	defer client.Close()

	sendCommand(t, client, "RPUSH", "q", "x")
	_ = readResponse(t, client)

	sendCommand(t, client, "BLPOP", "q", "0")
	resp := readResponse(t, client)
	assert.Contains(t, resp, "q")
	assert.Contains(t, resp, "x")
}

func TestDispatcherBLPopTimeout(t *testing.T) {
	client, _ := newTestDispatcher(t)
	defer client.Close()

	sendCommand(t, client, "BLPOP", "nokey", "1")
	resp := readResponse(t, client)
	assert.Equal(t, "*-1\r\n", resp)
}

// TestDispatcherBLPopCrossConnectionHandoff exercises BLPOP's producer
// handoff across two real connections sharing one store/registry: one
// connection parks on BLPOP before any data exists, a second issues
// RPUSH, and the first must receive the pushed element without ever
// timing out or needing a second push.
func TestDispatcherBLPopCrossConnectionHandoff(t *testing.T) {
	registry := blocking.NewRegistry()
	st := store.New(registry)

	waiterConn, _ := newTestConn(t, st, registry)
	defer waiterConn.Close()
	producerConn, _ := newTestConn(t, st, registry)
	defer producerConn.Close()

	sendCommand(t, waiterConn, "BLPOP", "queue", "5")

	// Give the waiter time to actually park on the registry before the
	// producer pushes, so this exercises the handoff path rather than
	// the same-connection fast path.
	time.Sleep(50 * time.Millisecond)

	sendCommand(t, producerConn, "RPUSH", "queue", "payload")

	// The producer writes the waiter's reply before its own, and net.Pipe
	// is unbuffered, so the waiter side must be read first.
	resp := readResponse(t, waiterConn)
	assert.Contains(t, resp, "queue")
	assert.Contains(t, resp, "payload")

	assert.Equal(t, ":1\r\n", readResponse(t, producerConn))
}

// TestDispatcherXReadBlockCrossConnectionHandoff is the stream analogue:
// one connection parks on XREAD BLOCK past the tail, a second XADDs a new
// entry, and the parked connection must receive it.
func TestDispatcherXReadBlockCrossConnectionHandoff(t *testing.T) {
	registry := blocking.NewRegistry()
	st := store.New(registry)

	waiterConn, _ := newTestConn(t, st, registry)
	defer waiterConn.Close()
	producerConn, _ := newTestConn(t, st, registry)
	defer producerConn.Close()

	sendCommand(t, waiterConn, "XREAD", "BLOCK", "5000", "STREAMS", "events", "$")

	time.Sleep(50 * time.Millisecond)

	sendCommand(t, producerConn, "XADD", "events", "*", "field", "value")

	resp := readResponse(t, waiterConn)
	assert.Contains(t, resp, "events")
	assert.Contains(t, resp, "field")
	assert.Contains(t, resp, "value")

	idResp := readResponse(t, producerConn)
	assert.Contains(t, idResp, "-")
}
