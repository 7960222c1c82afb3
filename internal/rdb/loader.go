// Package rdb implements the read-only, best-effort RDB snapshot loader.
// On any parse failure it silently aborts, leaving whatever
// entries were loaded so far in the store — no error ever propagates past
// Load.
package rdb

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"kvresp/internal/store"
)

const (
	opAux      = 0xFA
	opDBStart  = 0xFE
	opResizeDB = 0xFB
	opExpireMS = 0xFC
	opExpireS  = 0xFD
	opEOF      = 0xFF

	valueTypeString = 0x00
)

// Load opens path, verifies the "REDIS" magic + 4-byte version, and loads
// every string-kind key it can parse into s. Any error — missing file,
// bad magic, truncated stream, unsupported encoding — aborts loading
// silently; entries loaded before the failure point remain in the store.
// It returns the count of keys loaded, for startup logging and the
// keys-loaded metric.
func Load(path string, s *store.Store, logger *zap.Logger) int {
	f, err := os.Open(path)
	if err != nil {
		logger.Info("rdb: no snapshot to load", zap.String("path", path), zap.Error(err))
		return 0
	}
	defer f.Close()

	r := bufio.NewReader(f)
	loaded, err := load(r, s)
	if err != nil {
		logger.Warn("rdb: load aborted, keeping partial result", zap.String("path", path), zap.Int("keys_loaded", loaded), zap.Error(err))
	} else {
		logger.Info("rdb: snapshot loaded", zap.String("path", path), zap.Int("keys_loaded", loaded))
	}
	return loaded
}

func load(r *bufio.Reader, s *store.Store) (int, error) {
	magic := make([]byte, 5)
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, err
	}
	if string(magic) != "REDIS" {
		return 0, errMalformed("bad magic")
	}
	if _, err := io.ReadFull(r, make([]byte, 4)); err != nil { // version, discarded
		return 0, err
	}

	loaded := 0
	for {
		op, err := r.ReadByte()
		if err != nil {
			return loaded, err
		}

		switch op {
		case opEOF:
			return loaded, nil

		case opAux:
			if _, err := readString(r); err != nil {
				return loaded, err
			}
			if _, err := readString(r); err != nil {
				return loaded, err
			}

		case opDBStart:
			if _, _, err := readLength(r); err != nil { // db index, discarded
				return loaded, err
			}
			if err := maybeSkipResizeHints(r); err != nil {
				return loaded, err
			}
			n, err := loadDB(r, s)
			loaded += n
			if err != nil {
				return loaded, err
			}

		default:
			return loaded, errMalformed("unexpected top-level opcode")
		}
	}
}

// maybeSkipResizeHints consumes the two length-encoded resize hints that
// follow 0xFB immediately after a DB selector, or backs up one byte if
// the next opcode isn't 0xFB.
func maybeSkipResizeHints(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != opResizeDB {
		return r.UnreadByte()
	}
	if _, _, err := readLength(r); err != nil {
		return err
	}
	if _, _, err := readLength(r); err != nil {
		return err
	}
	return nil
}

// loadDB reads key/value records until 0xFF, storing every string-kind
// entry it can decode. It returns the count of keys successfully stored
// even when it ultimately hits an error partway through.
func loadDB(r *bufio.Reader, s *store.Store) (int, error) {
	loaded := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return loaded, err
		}

		var expireAtMS int64
		switch b {
		case opEOF:
			return loaded, nil
		case opExpireMS:
			raw := make([]byte, 8)
			if _, err := io.ReadFull(r, raw); err != nil {
				return loaded, err
			}
			expireAtMS = int64(binary.LittleEndian.Uint64(raw))
			if b, err = r.ReadByte(); err != nil {
				return loaded, err
			}
		case opExpireS:
			raw := make([]byte, 4)
			if _, err := io.ReadFull(r, raw); err != nil {
				return loaded, err
			}
			expireAtMS = int64(binary.LittleEndian.Uint32(raw)) * 1000
			if b, err = r.ReadByte(); err != nil {
				return loaded, err
			}
		}

		valueType := b
		key, err := readString(r)
		if err != nil {
			return loaded, err
		}

		if valueType != valueTypeString {
			// Only string values are required to be loaded; anything else
			// aborts loading since we don't know its encoding length to
			// skip past it safely.
			return loaded, errMalformed("unsupported value type")
		}

		value, err := readString(r)
		if err != nil {
			return loaded, err
		}

		s.Set(key, value, store.SetOptions{ExpireAtMS: expireAtMS})
		loaded++
	}
}

type malformedError struct{ reason string }

func (e *malformedError) Error() string { return "rdb: malformed: " + e.reason }

func errMalformed(reason string) error { return &malformedError{reason: reason} }

// readLength parses the RDB length encoding: returns the decoded
// length and, for the special "11" encoding, whether it was an
// integer-encoded value (in which case the caller should use
// readIntEncodedString instead of treating the result as a byte count).
func readLength(r *bufio.Reader) (n int64, special bool, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch b >> 6 {
	case 0b00:
		return int64(b & 0x3F), false, nil
	case 0b01:
		next, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return int64(b&0x3F)<<8 | int64(next), false, nil
	case 0b10:
		raw := make([]byte, 4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return 0, false, err
		}
		return int64(binary.BigEndian.Uint32(raw)), false, nil
	default: // 0b11: integer-encoded string, length is not a byte count
		return int64(b & 0x3F), true, nil
	}
}

// readString reads one RDB-encoded string, resolving the integer-encoded
// sub-cases to their decimal representation.
func readString(r *bufio.Reader) (string, error) {
	n, special, err := readLength(r)
	if err != nil {
		return "", err
	}
	if !special {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}

	switch n {
	case 0x00:
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(b), 10), nil
	case 0x01:
		raw := make([]byte, 2)
		if _, err := io.ReadFull(r, raw); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(raw))), 10), nil
	case 0x02:
		raw := make([]byte, 4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(raw))), 10), nil
	default:
		return "", errMalformed("unsupported integer encoding")
	}
}
