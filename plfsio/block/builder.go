// Package block implements the restart-interval-compressed key/value
// blocks shared by data, index, meta, and filter storage: a builder that
// assembles one block's body, and a reader that seeks and scans it.
package block

import (
	"encoding/binary"

	"github.com/dlambrig/deltafs/plfsio/format"
)

// Builder assembles one block. Every restartInterval-th entry is recorded
// verbatim (no shared-prefix compression) in the trailing restart array so
// a seek can binary-search restart points before falling back to a linear
// scan within the target run.
type Builder struct {
	restartInterval int
	buf             []byte
	restarts        []uint32
	counter         int
	lastKey         []byte
	finished        bool
}

// NewBuilder returns a Builder that restarts shared-prefix compression
// every restartInterval entries. A restartInterval of 1 disables prefix
// sharing entirely, matching how index and meta blocks are built.
func NewBuilder(restartInterval int) *Builder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	b := &Builder{restartInterval: restartInterval}
	b.restarts = append(b.restarts, 0)
	return b
}

// Reset clears the builder so it can assemble a new block.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.counter = 0
	b.lastKey = nil
	b.finished = false
}

// Empty reports whether any entry has been added since the last Reset.
func (b *Builder) Empty() bool {
	return len(b.buf) == 0
}

// CurrentSizeEstimate returns the size the block body would have if
// finished right now, including the restart array and its length word.
func (b *Builder) CurrentSizeEstimate() int {
	return len(b.buf) + len(b.restarts)*4 + 4
}

// Add appends a key/value entry. Keys must be added in non-decreasing
// order; callers are responsible for enforcing that, since the builder
// itself has no notion of "last key added by the table" across blocks.
func (b *Builder) Add(key, value []byte) {
	if b.finished {
		panic("block: add after finish")
	}
	shared := 0
	if b.counter < b.restartInterval {
		minLen := len(b.lastKey)
		if len(key) < minLen {
			minLen = len(key)
		}
		for shared < minLen && b.lastKey[shared] == key[shared] {
			shared++
		}
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}
	nonShared := key[shared:]

	b.buf = format.PutUvarint(b.buf, uint64(shared))
	b.buf = format.PutUvarint(b.buf, uint64(len(nonShared)))
	b.buf = format.PutUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, nonShared...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

// Finish returns the block body: entries followed by the restart array
// and its count, little-endian 32-bit words. The returned slice aliases
// the builder's internal buffer and is invalidated by the next Add/Reset.
func (b *Builder) Finish() []byte {
	b.finished = true
	for _, r := range b.restarts {
		b.buf = putUint32(b.buf, r)
	}
	b.buf = putUint32(b.buf, uint32(len(b.restarts)))
	return b.buf
}

// Finalize returns Finish's body with the 5-byte trailer appended
// (compression type plus masked CRC32C), optionally zero-padded on the
// right so the total size equals padTo. padTo of 0 means no padding.
func (b *Builder) Finalize(padTo int) []byte {
	return FinalizeRaw(b.Finish(), padTo)
}

// FinalizeRaw wraps an arbitrary already-encoded body (used for filter
// blocks, which are not restart-interval encoded) with the same trailer
// layout Builder.Finalize produces.
func FinalizeRaw(body []byte, padTo int) []byte {
	out := make([]byte, 0, len(body)+format.BlockTrailerSize)
	out = append(out, body...)
	out = append(out, format.NoCompression)
	crc := format.Checksum(out)
	out = putUint32(out, crc)
	if padTo > len(out) {
		out = append(out, make([]byte, padTo-len(out))...)
	}
	return out
}

func putUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}
