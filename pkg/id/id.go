// Package id generates 128-bit, lexicographically sortable identifiers.
// ebb uses them as document keys when the caller does not supply one, so
// that freshly inserted documents land in insertion order within a
// collection's key range.
package id

import (
	"encoding/binary"
	"sync"
	"time"
)

// ID is 16 bytes, big-endian: [8 bytes unix-ms][8 bytes sequence].
type ID [16]byte

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, i[:])
	return b
}

// String returns the id as lower-case hex.
func (i ID) String() string {
	const digits = "0123456789abcdef"
	out := make([]byte, 32)
	for n, v := range i {
		out[n*2] = digits[v>>4]
		out[n*2+1] = digits[v&0x0f]
	}
	return string(out)
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator { return &Generator{} }

// nowMs is swappable in tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. A backwards clock keeps the previous millisecond
// and bumps the sequence so ordering never regresses.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := nowMs()
	if ms <= g.lastMs {
		ms = g.lastMs
		g.seq++
	} else {
		g.seq = 0
	}
	g.lastMs = ms

	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], g.seq)
	return id
}
