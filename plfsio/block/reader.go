package block

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dlambrig/deltafs/plfsio/format"
)

// Iterator is the capability set exposed by a decoded block, expressed as
// a small interface rather than an inheritance hierarchy. The write
// buffer's sorted cursor has the same navigation methods but no Seek or
// Status, and does not implement this interface.
type Iterator interface {
	SeekToFirst()
	SeekToLast()
	Seek(key []byte)
	Next()
	Prev()
	Valid() bool
	Key() []byte
	Value() []byte
	Status() error
}

// Reader decodes a finalized block body (the part before the trailer) for
// random access.
type Reader struct {
	data     []byte
	restarts []uint32
}

// NewReader parses body, the block content returned by Builder.Finish (no
// trailer). It does not copy body; callers must keep it alive.
func NewReader(body []byte) (*Reader, error) {
	if len(body) < 4 {
		return nil, errors.New("block: truncated body")
	}
	numRestarts := binary.LittleEndian.Uint32(body[len(body)-4:])
	restartsEnd := len(body) - 4
	restartsStart := restartsEnd - int(numRestarts)*4
	if numRestarts == 0 || restartsStart < 0 {
		return nil, errors.New("block: corrupt restart array")
	}
	restarts := make([]uint32, numRestarts)
	for i := range restarts {
		restarts[i] = binary.LittleEndian.Uint32(body[restartsStart+i*4:])
	}
	return &Reader{data: body[:restartsStart], restarts: restarts}, nil
}

// NewIterator returns a fresh cursor over r. Multiple iterators over the
// same Reader may be used concurrently; they share no mutable state.
func (r *Reader) NewIterator() Iterator {
	return &blockIterator{r: r}
}

type blockIterator struct {
	r            *Reader
	offset       int // byte offset of the entry currently exposed by Key/Value
	nextOffset   int // byte offset one past that entry
	restart      int
	key          []byte
	value        []byte
	valid        bool
	err          error
}

func (it *blockIterator) Status() error { return it.err }
func (it *blockIterator) Valid() bool   { return it.valid }
func (it *blockIterator) Key() []byte   { return it.key }
func (it *blockIterator) Value() []byte { return it.value }

func (it *blockIterator) SeekToFirst() {
	it.seekToRestartPoint(0)
	it.parseAt(it.nextOffset)
}

func (it *blockIterator) SeekToLast() {
	it.seekToRestartPoint(len(it.r.restarts) - 1)
	for it.parseAt(it.nextOffset) && it.nextOffset < len(it.r.data) {
	}
}

func (it *blockIterator) seekToRestartPoint(idx int) {
	it.key = it.key[:0]
	it.restart = idx
	if idx < 0 || idx >= len(it.r.restarts) {
		it.nextOffset = len(it.r.data)
		it.valid = false
		return
	}
	it.nextOffset = int(it.r.restarts[idx])
	it.valid = true
}

// Seek positions the iterator at the first entry with key >= target,
// binary-searching the restart points first and then scanning linearly
// within the selected run.
func (it *blockIterator) Seek(target []byte) {
	lo, hi := 0, len(it.r.restarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		it.seekToRestartPoint(mid)
		if !it.parseAt(it.nextOffset) {
			hi = mid - 1
			continue
		}
		if bytes.Compare(it.key, target) < 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it.seekToRestartPoint(lo)
	for it.parseAt(it.nextOffset) {
		if bytes.Compare(it.key, target) >= 0 {
			return
		}
	}
	it.valid = false
}

func (it *blockIterator) Next() {
	if !it.valid {
		return
	}
	it.parseAt(it.nextOffset)
}

// Prev reseeks from the restart point at or before the current entry and
// scans forward to the entry just before it; blocks are small enough that
// this O(run) rescan is not a bottleneck.
func (it *blockIterator) Prev() {
	if !it.valid {
		return
	}
	originalStart := it.offset
	restart := it.restart
	for restart > 0 && int(it.r.restarts[restart]) >= originalStart {
		restart--
	}
	it.seekToRestartPoint(restart)
	lastStart := -1
	for it.parseAt(it.nextOffset) && it.offset < originalStart {
		lastStart = it.offset
	}
	if lastStart < 0 {
		it.valid = false
		return
	}
	it.seekToRestartPoint(restart)
	for it.parseAt(it.nextOffset) && it.offset < lastStart {
	}
}

// parseAt decodes the entry starting at byte offset off, advancing
// it.offset/it.nextOffset and it.key/it.value on success.
func (it *blockIterator) parseAt(off int) bool {
	if off >= len(it.r.data) {
		it.valid = false
		return false
	}
	entryStart := off
	p := it.r.data[off:]
	shared, p, err := format.GetUvarint(p)
	if err != nil {
		it.err = errors.Wrap(err, "block: decode shared key length")
		it.valid = false
		return false
	}
	nonShared, p, err := format.GetUvarint(p)
	if err != nil {
		it.err = errors.Wrap(err, "block: decode non-shared key length")
		it.valid = false
		return false
	}
	valLen, p, err := format.GetUvarint(p)
	if err != nil {
		it.err = errors.Wrap(err, "block: decode value length")
		it.valid = false
		return false
	}
	if uint64(len(p)) < nonShared+valLen {
		it.err = errors.New("block: truncated entry")
		it.valid = false
		return false
	}
	if shared > uint64(len(it.key)) {
		it.err = errors.New("block: bad shared key length")
		it.valid = false
		return false
	}
	key := make([]byte, shared+nonShared)
	copy(key, it.key[:shared])
	copy(key[shared:], p[:nonShared])
	it.key = key
	it.value = append([]byte(nil), p[nonShared:nonShared+valLen]...)
	it.offset = entryStart
	it.nextOffset = len(it.r.data) - len(p) + int(nonShared+valLen)
	it.valid = true
	return true
}
