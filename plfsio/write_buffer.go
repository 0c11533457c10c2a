package plfsio

import (
	"bytes"
	"sort"

	"github.com/dlambrig/deltafs/plfsio/format"
)

// WriteBuffer is the append-then-sort in-memory arena a DirLogger fills
// before handing it to the background compactor. It replaces the
// teacher's skip list (memtable/skiplist.go): this format never needs an
// ordered structure at insert time, only a stable sort right before the
// buffer becomes immutable, so a flat byte arena plus an offset array is
// both simpler and exactly what the original's WriteBuffer does.
type WriteBuffer struct {
	buf      []byte
	offsets  []uint32
	finished bool

	// EpochFlush and Finalize are staged on the buffer by Prepare when
	// it hands the buffer off to the compactor, so the background task
	// knows whether to call EndEpoch/Finish after draining it.
	EpochFlush bool
	Finalize   bool
}

// Reserve hints at the eventual size so Add doesn't repeatedly reallocate
// buf; it is advisory, not a hard cap.
func (w *WriteBuffer) Reserve(numEntries, numBytes int) {
	if cap(w.buf) < numBytes {
		grown := make([]byte, len(w.buf), numBytes)
		copy(grown, w.buf)
		w.buf = grown
	}
	if cap(w.offsets) < numEntries {
		grown := make([]uint32, len(w.offsets), numEntries)
		copy(grown, w.offsets)
		w.offsets = grown
	}
}

// Add appends a key/value pair. Add after FinishAndSort is a programmer
// error.
func (w *WriteBuffer) Add(key, value []byte) {
	if w.finished {
		panic("write_buffer: add after finish")
	}
	w.offsets = append(w.offsets, uint32(len(w.buf)))
	w.buf = format.PutLengthPrefixedBytes(w.buf, key)
	w.buf = format.PutLengthPrefixedBytes(w.buf, value)
}

// NumEntries returns the number of key/value pairs added so far.
func (w *WriteBuffer) NumEntries() int {
	return len(w.offsets)
}

// CurrentBufferSize returns the number of bytes of entry data buffered so
// far (key/value payload plus its length prefixes, not the offset
// array).
func (w *WriteBuffer) CurrentBufferSize() int {
	return len(w.buf)
}

// MemoryUsage returns the buffer's total in-memory footprint, entry data
// plus the offset array, used by DirLogger.MemoryUsage.
func (w *WriteBuffer) MemoryUsage() int {
	return cap(w.buf) + cap(w.offsets)*4
}

func (w *WriteBuffer) keyAt(offset uint32) []byte {
	key, _, _ := format.GetLengthPrefixedBytes(w.buf[offset:])
	return key
}

// FinishAndSort stable-sorts the offset array by key, bytewise, and
// marks the buffer read-only. Stability preserves insertion order among
// equal keys, which is what gives multi-value reads their documented
// "in-block insertion order" tiebreak.
func (w *WriteBuffer) FinishAndSort() {
	w.finished = true
	sort.SliceStable(w.offsets, func(i, j int) bool {
		return bytes.Compare(w.keyAt(w.offsets[i]), w.keyAt(w.offsets[j])) < 0
	})
}

// Reset discards all entries so the buffer can be reused by the next
// compaction cycle, matching the original's buffer-reuse-across-
// compactions lifecycle.
func (w *WriteBuffer) Reset() {
	w.buf = w.buf[:0]
	w.offsets = w.offsets[:0]
	w.finished = false
	w.EpochFlush = false
	w.Finalize = false
}

// NewIterator returns a cursor over the sorted offset array. It is only
// valid to call after FinishAndSort.
func (w *WriteBuffer) NewIterator() *WriteBufferIterator {
	if !w.finished {
		panic("write_buffer: iterator requested before finish")
	}
	return &WriteBufferIterator{w: w, index: -1}
}

// WriteBufferIterator is a forward/backward cursor over a finished
// WriteBuffer's sorted entries. Seek is intentionally not supported:
// compaction only ever scans forward from the start, matching spec.md
// §4.3's "Seek is not supported" note.
type WriteBufferIterator struct {
	w     *WriteBuffer
	index int
}

func (it *WriteBufferIterator) SeekToFirst() { it.index = 0 }
func (it *WriteBufferIterator) SeekToLast()  { it.index = len(it.w.offsets) - 1 }
func (it *WriteBufferIterator) Next()        { it.index++ }
func (it *WriteBufferIterator) Prev()        { it.index-- }

func (it *WriteBufferIterator) Valid() bool {
	return it.index >= 0 && it.index < len(it.w.offsets)
}

func (it *WriteBufferIterator) Key() []byte {
	key, _, _ := format.GetLengthPrefixedBytes(it.w.buf[it.w.offsets[it.index]:])
	return key
}

func (it *WriteBufferIterator) Value() []byte {
	p := it.w.buf[it.w.offsets[it.index]:]
	_, p, _ = format.GetLengthPrefixedBytes(p)
	value, _, _ := format.GetLengthPrefixedBytes(p)
	return value
}
