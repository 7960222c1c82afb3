package rdb

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kvresp/internal/store"
)

// shortStr encodes s using the "00" length prefix (strings under 64 bytes).
func shortStr(s string) []byte {
	out := []byte{byte(len(s))}
	return append(out, s...)
}

func buildSnapshot(body []byte) []byte {
	out := []byte("REDIS")
	out = append(out, 0, 0, 0, 0) // version, discarded
	out = append(out, body...)
	return out
}

func TestLoadSimpleStringKeys(t *testing.T) {
	body := []byte{opDBStart, 0x00} // db index 0
	body = append(body, valueTypeString)
	body = append(body, shortStr("foo")...)
	body = append(body, shortStr("bar")...)
	body = append(body, opEOF)

	raw := buildSnapshot(body)
	n, err := load(bufio.NewReader(bytes.NewReader(raw)), store.New(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadKeyWithExpiry(t *testing.T) {
	body := []byte{opDBStart, 0x00}
	body = append(body, opExpireMS)
	body = append(body, 0x00, 0xD8, 0xC3, 0x2C, 0xBB, 0x03, 0x00, 0x00) // year-2100 ms, little-endian
	body = append(body, valueTypeString)
	body = append(body, shortStr("k")...)
	body = append(body, shortStr("v")...)
	body = append(body, opEOF)

	raw := buildSnapshot(body)
	s := store.New(nil)
	n, err := load(bufio.NewReader(bytes.NewReader(raw)), s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestLoadAuxFieldsSkipped(t *testing.T) {
	body := []byte{opAux}
	body = append(body, shortStr("redis-ver")...)
	body = append(body, shortStr("7.0.0")...)
	body = append(body, opDBStart, 0x00)
	body = append(body, valueTypeString)
	body = append(body, shortStr("a")...)
	body = append(body, shortStr("b")...)
	body = append(body, opEOF)

	raw := buildSnapshot(body)
	n, err := load(bufio.NewReader(bytes.NewReader(raw)), store.New(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadBadMagicAborts(t *testing.T) {
	n, err := load(bufio.NewReader(bytes.NewReader([]byte("NOTREDIS12345"))), store.New(nil))
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestLoadTruncatedKeepsPartialResult(t *testing.T) {
	body := []byte{opDBStart, 0x00}
	body = append(body, valueTypeString)
	body = append(body, shortStr("first")...)
	body = append(body, shortStr("value")...)
	body = append(body, valueTypeString)
	body = append(body, shortStr("second")...)
	// truncated: missing the second value's bytes entirely

	raw := buildSnapshot(body)
	n, err := load(bufio.NewReader(bytes.NewReader(raw)), store.New(nil))
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadIntegerEncodedString(t *testing.T) {
	body := []byte{opDBStart, 0x00}
	body = append(body, valueTypeString)
	body = append(body, shortStr("n")...)
	body = append(body, 0xC0, 42) // 11_000000 -> 1-byte integer encoding, value 42
	body = append(body, opEOF)

	raw := buildSnapshot(body)
	s := store.New(nil)
	n, err := load(bufio.NewReader(bytes.NewReader(raw)), s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, ok, err := s.Get("n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	logger := zap.NewNop()
	n := Load("/nonexistent/path/dump.rdb", store.New(nil), logger)
	assert.Equal(t, 0, n)
}
