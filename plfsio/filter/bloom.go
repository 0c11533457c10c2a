// Package filter implements the directory's bloom filter block: a
// double-hashed bitset with an embedded probe count, wrapped in the same
// block trailer used by data blocks.
package filter

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Seed is the fixed seed mixed into every key hash, matching the value the
// rest of this store's on-disk format commits to.
const Seed = 0xbc9f1d34

// Hash computes the single underlying hash used to derive both probe
// positions via double hashing. Grounded on the teacher's choice of
// murmur3 as the hash primitive (sstable/filter/filter.go), though the
// teacher instead ran k independent seeded hash functions; this format
// needs exactly one hash value per key, so only murmur3.Sum32 with a fixed
// seed is used.
func Hash(key []byte) uint32 {
	return murmur3.Sum32WithSeed(key, Seed)
}

// BitsToK converts a bits-per-key budget into a probe count, clamped to
// [1, 30]: few enough probes to stay cheap, many enough to hit the
// requested false-positive rate.
func BitsToK(bitsPerKey int) int {
	k := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// Builder accumulates keys for one table's filter block.
type Builder struct {
	bitsPerKey int
	keys       [][]byte
}

// NewBuilder returns a Builder that will budget bitsPerKey bits for each
// key eventually added to it.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// AddKey records a key to be included in the next Finish.
func (b *Builder) AddKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

// Reset discards accumulated keys so the builder can be reused for the
// next table, matching write_buffer.go's Reset pattern.
func (b *Builder) Reset() {
	b.keys = b.keys[:0]
}

// Empty reports whether any keys have been added since the last Reset.
func (b *Builder) Empty() bool {
	return len(b.keys) == 0
}

// Finish encodes the accumulated keys into a filter body: a packed bitset
// followed by a single trailing byte holding the probe count k. It does
// not reset the builder; callers that want to reuse it call Reset.
func (b *Builder) Finish() []byte {
	n := len(b.keys)
	k := BitsToK(b.bitsPerKey)
	bits := n * b.bitsPerKey
	if bits < 64 {
		bits = 64
	}
	bytes := (bits + 7) / 8
	bits = bytes * 8

	buf := make([]byte, bytes+1)
	for _, key := range b.keys {
		h := Hash(key)
		delta := (h >> 17) | (h << 15)
		for i := 0; i < k; i++ {
			bitpos := h % uint32(bits)
			buf[bitpos/8] |= 1 << (bitpos % 8)
			h += delta
		}
	}
	buf[bytes] = byte(k)
	return buf
}

// KeyMayMatch reports whether key may be a member of the set encoded in
// filter. A corrupted or too-short filter (fewer than 2 bytes, leaving no
// room for both a bitset byte and the trailing k) is treated as a
// may-match: a false positive here is always safe, a false negative is
// not.
func KeyMayMatch(filter []byte, key []byte) bool {
	if len(filter) < 2 {
		return true
	}
	bytes := len(filter) - 1
	k := int(filter[bytes])
	if k > 30 {
		return true
	}
	bits := bytes * 8

	h := Hash(key)
	delta := (h >> 17) | (h << 15)
	for i := 0; i < k; i++ {
		bitpos := h % uint32(bits)
		if filter[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}
