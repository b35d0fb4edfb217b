// Package ident generates the engine's 12-byte opaque document identifiers.
//
// Layout (spec.md §6): big-endian timestamp (seconds) in bytes 0-3, a
// 5-byte process/machine random prefix fixed per process, and a 3-byte
// counter that increments monotonically, seeded randomly at process start.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// Size is the length in bytes of an identifier.
const Size = 12

// ID is an opaque 12-byte document identifier.
type ID [Size]byte

var processPrefix [5]byte
var counter uint32 // seeded within 24 bits; only the low 24 bits are used (masked on use)

func init() {
	if _, err := rand.Read(processPrefix[:]); err != nil {
		// crypto/rand failing is a fatal environment error; fall back to a
		// time-derived prefix rather than panicking the whole process.
		now := uint64(time.Now().UnixNano())
		for i := range processPrefix {
			processPrefix[i] = byte(now >> (8 * uint(i)))
		}
	}

	var seed [3]byte
	_, _ = rand.Read(seed[:])
	counter = uint32(seed[0])<<16 | uint32(seed[1])<<8 | uint32(seed[2])
}

// Generate returns a fresh identifier using the current wall-clock time.
func Generate() ID {
	return GenerateAt(time.Now())
}

// GenerateAt returns a fresh identifier timestamped at t, for deterministic
// tests and for callers plumbing in an injected clock.
func GenerateAt(t time.Time) ID {
	var id ID

	sec := uint32(t.Unix())
	id[0] = byte(sec >> 24)
	id[1] = byte(sec >> 16)
	id[2] = byte(sec >> 8)
	id[3] = byte(sec)

	copy(id[4:9], processPrefix[:])

	n := atomic.AddUint32(&counter, 1) & 0x00FFFFFF
	id[9] = byte(n >> 16)
	id[10] = byte(n >> 8)
	id[11] = byte(n)

	return id
}

// String renders the identifier as 24 lowercase hex characters.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the identifier's 12 raw bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// FromBytes parses a 12-byte slice into an identifier.
func FromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != Size {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// FromHex parses a 24-character lowercase hex string into an identifier.
func FromHex(s string) (ID, bool) {
	var id ID
	if len(s) != Size*2 {
		return id, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Compare orders identifiers as unsigned byte strings, matching B-tree key
// ordering (spec.md §4.4).
func Compare(a, b ID) int {
	for i := 0; i < Size; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
