// Package idgen generates process-unique identifiers for requests and client handles.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// Generator hands out monotonically increasing uint32 ids starting from a random seed.
// Zero is never returned, because OPC UA reserves it for "no id".
type Generator struct {
	id atomic.Uint32
}

// New creates a generator seeded from crypto/rand. If the random source fails the
// generator starts from zero.
func New() *Generator {
	g := &Generator{}
	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err == nil {
		// keep the seed in the lower half so wrap-around is far away
		g.id.Store(binary.LittleEndian.Uint32(buf[:]) >> 1)
	}

	return g
}

// NewSequential creates a generator that starts at 1. Useful when ids are shown to humans.
func NewSequential() *Generator {
	return &Generator{}
}

// Next returns the next id.
func (g *Generator) Next() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}
