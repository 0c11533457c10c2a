package plfsio

import (
	"github.com/dlambrig/deltafs/plfsio/block"
	"github.com/dlambrig/deltafs/plfsio/filter"
	"github.com/dlambrig/deltafs/plfsio/format"
	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/metrics"
)

// TableLogger is the block/table/epoch assembler: it accepts already
// sorted keys in ascending order and writes data blocks to the data log
// while maintaining the index and root meta blocks in the index log. It
// replaces the teacher's BlockWriter (sstable/writer.go), trading its
// LCP-prefix-only, s2-compressed single-table format for full
// restart-interval blocks, a fixed no-compression trailer, and the
// multi-table/multi-epoch root meta layout this format requires.
type TableLogger struct {
	opts      *DirOptions
	dataSink  *logio.LogSink
	indexSink *logio.LogSink
	metrics   *metrics.Registry

	dataBlock  *block.Builder
	indexBlock *block.Builder
	metaBlock  *block.Builder
	filter     *filter.Builder

	pendingHandle   format.BlockHandle
	hasPendingBlock bool

	pendingIndex []indexEntry
	pendingBytes int

	smallestKey []byte
	largestKey  []byte
	lastKey     []byte
	tableOpen   bool

	numTables uint32
	numEpochs uint32

	status   Status
	finished bool
}

// NewTableLogger constructs a TableLogger writing through dataSink and
// indexSink, both of which it takes a reference on.
func NewTableLogger(opts *DirOptions, dataSink, indexSink *logio.LogSink, reg *metrics.Registry) *TableLogger {
	dataSink.Ref()
	indexSink.Ref()
	t := &TableLogger{
		opts:       opts,
		dataSink:   dataSink,
		indexSink:  indexSink,
		metrics:    reg,
		dataBlock:  block.NewBuilder(16),
		indexBlock: block.NewBuilder(1),
		metaBlock:  block.NewBuilder(1),
	}
	if opts.BfBitsPerKey > 0 {
		t.filter = filter.NewBuilder(opts.BfBitsPerKey)
	}
	return t
}

// Status returns the first non-OK status latched by this logger.
func (t *TableLogger) Status() Status { return t.status }

// Ok reports whether Status().Ok().
func (t *TableLogger) Ok() bool { return t.status.Ok() }

func (t *TableLogger) setStatus(s Status) Status {
	if t.status.Ok() && !s.Ok() {
		t.status = s
	}
	return t.status
}

// Add inserts one key/value pair. Keys must compare >= the last key
// added to this table; a violation latches AssertionFailed.
func (t *TableLogger) Add(key, value []byte) Status {
	if !t.status.Ok() {
		return t.status
	}
	if t.finished {
		return t.setStatus(AssertionFailed("table logger already finished"))
	}
	if t.hasPendingBlock {
		sep := format.FindShortestSeparator(t.lastKey, key)
		t.stageIndexEntry(sep, t.pendingHandle)
		t.hasPendingBlock = false
	}
	if t.lastKey != nil && bytesLess(key, t.lastKey) {
		return t.setStatus(AssertionFailed("keys added out of order"))
	}
	if t.smallestKey == nil {
		t.smallestKey = append([]byte(nil), key...)
	}
	t.dataBlock.Add(key, value)
	t.lastKey = append(t.lastKey[:0], key...)
	t.largestKey = append(t.largestKey[:0], key...)
	t.tableOpen = true
	if t.filter != nil {
		t.filter.AddKey(key)
	}

	limit := int(float64(t.opts.BlockSize) * t.opts.BlockUtil)
	if t.dataBlock.CurrentSizeEstimate()+format.BlockTrailerSize >= limit {
		t.EndBlock()
	}
	return t.status
}

// EndBlock finalizes the current data block, if any, writes it to the
// data sink, and records a pending handle: its index entry is staged
// once the next Add (or EndTable) supplies the separator key,
// then committed into the index block once the staged batch reaches
// opts.BlockBuffer bytes, per stageIndexEntry.
func (t *TableLogger) EndBlock() Status {
	if !t.status.Ok() || t.dataBlock.Empty() {
		return t.status
	}
	contentSize := t.dataBlock.CurrentSizeEstimate()
	rawSize := contentSize + format.BlockTrailerSize
	padTo := rawSize
	if t.opts.BlockPadding {
		padTo = ceilMultiple(rawSize, t.opts.BlockSize)
	}
	body := t.dataBlock.Finalize(padTo)
	offset := t.dataSink.Ltell()
	if err := t.dataSink.Lwrite(body); err != nil {
		return t.setStatus(IoError(err))
	}
	t.metrics.AddBytesWritten("data", len(body))
	t.pendingHandle = format.BlockHandle{Offset: uint64(offset), Size: uint64(contentSize)}
	t.hasPendingBlock = true
	t.dataBlock.Reset()
	return t.status
}

// stageIndexEntry appends one index entry to the uncommitted batch and,
// once the batch reaches opts.BlockBuffer bytes (the per-flush data
// buffer cap spec.md §6 defines BlockBuffer to be), commits the whole
// batch into the index block in one step. Grounded on
// deltafs_plfsio_internal.cc's Commit(), which accumulates
// num_uncommitted_index_/uncommitted_indexes_ across multiple EndBlock
// calls and flushes them together rather than one at a time. When
// BlockBuffer is unset (<=0), every staged entry commits immediately,
// reproducing the un-batched behavior spec.md §4.4 describes on its own.
func (t *TableLogger) stageIndexEntry(key []byte, handle format.BlockHandle) {
	entry := indexEntry{key: append([]byte(nil), key...), value: handle.EncodeTo(nil)}
	t.pendingIndex = append(t.pendingIndex, entry)
	t.pendingBytes += len(entry.key) + len(entry.value)
	if t.opts.BlockBuffer <= 0 || t.pendingBytes >= t.opts.BlockBuffer {
		t.commitPendingIndex()
	}
}

// commitPendingIndex flushes the uncommitted index-entry batch into the
// index block.
func (t *TableLogger) commitPendingIndex() {
	for _, e := range t.pendingIndex {
		t.indexBlock.Add(e.key, e.value)
	}
	t.pendingIndex = t.pendingIndex[:0]
	t.pendingBytes = 0
}

// indexEntry is one staged (not yet committed) index-block entry.
type indexEntry struct {
	key   []byte
	value []byte
}

// EndTable flushes any open block, finalizes the index and (optional)
// filter blocks, and appends this table's TableHandle to the root meta
// block at EpochKey(numEpochs, numTables). filterSupplied selects whether
// a filter block is emitted for this table.
func (t *TableLogger) EndTable(filterSupplied bool) Status {
	if !t.status.Ok() {
		return t.status
	}
	if !t.tableOpen {
		return t.status
	}
	t.EndBlock()
	if !t.status.Ok() {
		return t.status
	}
	if t.hasPendingBlock {
		succ := format.FindShortSuccessor(t.lastKey)
		t.stageIndexEntry(succ, t.pendingHandle)
		t.hasPendingBlock = false
	}
	t.commitPendingIndex()

	indexContentSize := t.indexBlock.CurrentSizeEstimate()
	indexBody := t.indexBlock.Finalize(0)
	indexOffset := t.indexSink.Ltell()
	if err := t.indexSink.Lwrite(indexBody); err != nil {
		return t.setStatus(IoError(err))
	}
	t.metrics.AddBytesWritten("index", len(indexBody))
	indexHandle := format.BlockHandle{
		Offset: uint64(indexOffset),
		Size:   uint64(indexContentSize),
	}

	var filterOffset, filterSize uint64
	if filterSupplied && t.filter != nil && !t.filter.Empty() {
		filterBody := block.FinalizeRaw(t.filter.Finish(), 0)
		filterOffset = uint64(t.indexSink.Ltell())
		if err := t.indexSink.Lwrite(filterBody); err != nil {
			return t.setStatus(IoError(err))
		}
		t.metrics.AddBytesWritten("index", len(filterBody))
		filterSize = uint64(len(filterBody))
	}

	if t.numTables >= kMaxTablesPerEpoch {
		return t.setStatus(AssertionFailed("too many tables per epoch"))
	}
	handle := format.TableHandle{
		Index:        indexHandle,
		FilterOffset: filterOffset,
		FilterSize:   filterSize,
		SmallestKey:  t.smallestKey,
		LargestKey:   format.FindShortSuccessor(t.largestKey),
	}
	key := format.EpochKey(t.numEpochs, t.numTables)
	t.metaBlock.Add(key, handle.EncodeTo(nil))
	t.numTables++
	t.metrics.IncTablesWritten()

	t.indexBlock.Reset()
	if t.filter != nil {
		t.filter.Reset()
	}
	t.smallestKey = nil
	t.largestKey = t.largestKey[:0]
	t.lastKey = t.lastKey[:0]
	t.tableOpen = false
	return t.status
}

// EndEpoch is an alias for the epoch-boundary step: it ends the current
// table with no filter (filters are supplied per-table via EndTable in
// the compactor, which calls EndTable directly; EndEpoch only closes out
// whatever table, if any, is still open) and advances the epoch counter.
func (t *TableLogger) EndEpoch() Status {
	t.EndTable(false)
	if !t.status.Ok() {
		return t.status
	}
	if t.numTables == 0 {
		return t.status
	}
	if t.numEpochs >= kMaxEpochs {
		return t.setStatus(AssertionFailed("too many epochs"))
	}
	t.numEpochs++
	t.numTables = 0
	t.metrics.IncEpochsWritten()
	return t.status
}

// MakeEpoch is an alias for EndEpoch, matching the naming spec.md uses in
// the directory logger's algorithmic contract.
func (t *TableLogger) MakeEpoch() Status { return t.EndEpoch() }

// Finish ends the current epoch, finalizes the root meta block, applies
// tail padding if configured, and writes the footer. Finish is
// idempotent in the sense that calling it again always returns
// AssertionFailed rather than re-writing the footer.
func (t *TableLogger) Finish() Status {
	if t.finished {
		return t.setStatus(AssertionFailed("already finished"))
	}
	t.EndEpoch()
	if !t.status.Ok() {
		return t.status
	}

	metaContentSize := t.metaBlock.CurrentSizeEstimate()
	metaBody := t.metaBlock.Finalize(0)
	metaOffset := t.indexSink.Ltell()
	if err := t.indexSink.Lwrite(metaBody); err != nil {
		return t.setStatus(IoError(err))
	}
	t.metrics.AddBytesWritten("index", len(metaBody))
	metaHandle := format.BlockHandle{
		Offset: uint64(metaOffset),
		Size:   uint64(metaContentSize),
	}

	if t.opts.TailPadding {
		size := t.indexSink.Ltell()
		padded := ceilMultiple(int(size), t.opts.IndexBuffer)
		if pad := padded - int(size); pad > 0 {
			if err := t.indexSink.Lwrite(make([]byte, pad)); err != nil {
				return t.setStatus(IoError(err))
			}
		}
	}

	footer := format.Footer{EpochIndex: metaHandle, NumEpochs: t.numEpochs}
	buf := make([]byte, format.FooterEncodeLen)
	footer.EncodeTo(buf)
	if err := t.indexSink.Lwrite(buf); err != nil {
		return t.setStatus(IoError(err))
	}
	t.metrics.AddBytesWritten("index", len(buf))

	t.finished = true
	t.dataSink.Unref()
	t.indexSink.Unref()
	return t.status
}

func bytesLess(a, b []byte) bool {
	return compareBytes(a, b) < 0
}

func compareBytes(a, b []byte) int {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func ceilMultiple(n, m int) int {
	if m <= 0 {
		return n
	}
	if n%m == 0 {
		return n
	}
	return (n/m + 1) * m
}
