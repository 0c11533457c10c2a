package plfsio

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/metrics"
)

// DirLogger is the directory's memtable-plus-compaction write path: two
// write buffers per partition, one table logger, and the mutex/condition
// variable pair that arbitrates access between producers and the
// background compactor. Grounded on memtable/memtable.go's WAL-backed
// memtable for the overall "buffer fills, then flushes" shape, but
// replacing its synchronous flushToDisk with the double-buffered,
// single-in-flight-compaction state machine spec.md §4.5 requires; there
// is no teacher analog for that part, so it follows
// deltafs_plfsio_internal.cc's DirLogger directly.
type DirLogger struct {
	opts    *DirOptions
	logger  logrus.FieldLogger
	metrics *metrics.Registry

	mu sync.Mutex
	cv *sync.Cond

	buf0, buf1           WriteBuffer
	mem               *WriteBuffer
	imm               *WriteBuffer
	hasBgCompaction   bool
	numFlushCompleted int
	numFlushRequested int

	dataSink  *logio.LogSink
	indexSink *logio.LogSink
	table     *TableLogger

	entriesPerBuffer int
	bufferBytes      int

	status Status
	closed bool
}

// NewDirLogger constructs a DirLogger over dataSink/indexSink, sized
// according to opts.
func NewDirLogger(opts *DirOptions, dataSink, indexSink *logio.LogSink, reg *metrics.Registry) *DirLogger {
	opts = opts.norm()
	d := &DirLogger{
		opts:      opts,
		logger:    opts.Logger,
		metrics:   reg,
		dataSink:  dataSink,
		indexSink: indexSink,
		table:     NewTableLogger(opts, dataSink, indexSink, reg),
	}
	d.cv = sync.NewCond(&d.mu)
	d.mem = &d.buf0

	perPartition := opts.MemtableBuffer >> opts.LgParts
	budget := perPartition - opts.BlockBuffer
	if budget < 0 {
		budget = 0
	}
	entryOverhead := opts.KeySize + opts.ValueSize + 10 // varint length-prefix overhead, generously
	bitsPerEntry := entryOverhead*8 + opts.BfBitsPerKey*2
	entries := 0
	if bitsPerEntry > 0 {
		entries = budget * 8 / bitsPerEntry
	}
	d.entriesPerBuffer = entries
	d.bufferBytes = entries * entryOverhead

	d.buf0.Reserve(entries, d.bufferBytes)
	d.buf1.Reserve(entries, d.bufferBytes)

	d.logger.WithFields(logrus.Fields{
		"entries_per_buffer": entries,
		"buffer_bytes":       d.bufferBytes,
	}).Debug("plfsio: directory logger sized")
	return d
}

// Add buffers one key/value pair, triggering a non-forced Prepare first.
func (d *DirLogger) Add(key, value []byte) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.prepare(false, false, false); !s.Ok() {
		return s
	}
	d.mem.Add(key, value)
	return OK
}

// Flush drives the compaction state machine per opts: it may wait for
// room, may return BufferFull immediately in non-blocking mode, and may
// additionally wait for the scheduled compaction itself to drain.
func (d *DirLogger) Flush(opts FlushOptions) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if opts.DryRun {
		if d.imm != nil && (d.opts.NonBlocking || opts.NoWait) {
			return BufferFull
		}
		return OK
	}
	s := d.prepareLocked(true, opts.EpochFlush, opts.Finalize, opts.NoWait)
	if !s.Ok() {
		return s
	}
	d.numFlushRequested++
	if !opts.NoWait {
		// Compactions run one at a time, in order: the one this call
		// scheduled is done once d.imm is nil, or else once the
		// compaction now in flight completes.
		target := d.numFlushCompleted
		if d.imm != nil {
			target++
		}
		for d.numFlushCompleted < target && d.status.Ok() {
			d.cv.Wait()
		}
	}
	return d.status
}

// Wait blocks until no background compaction is in flight.
func (d *DirLogger) Wait() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.hasBgCompaction {
		d.cv.Wait()
	}
	return d.status
}

// PreClose forces a durable close of both log sinks ahead of this
// DirLogger being dropped, distinct from the ordinary ref-counted
// release the sinks otherwise go through on Unref. It waits for any
// in-flight compaction to drain first. Grounded on
// deltafs_plfsio_internal.cc's PreClose (~698-712), which calls
// data_->Lclose(sync) / indx_->Lclose(sync) with sync=true.
func (d *DirLogger) PreClose(ctx context.Context) Status {
	if s := d.Wait(); !s.Ok() {
		return s
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dataSink.Lclose(true); err != nil {
		if d.status.Ok() {
			d.status = IoError(err)
		}
		return d.status
	}
	if err := d.indexSink.Lclose(true); err != nil {
		if d.status.Ok() {
			d.status = IoError(err)
		}
		return d.status
	}
	return d.status
}

// MemoryUsage sums both write buffers' capacity plus the table logger's
// in-flight block buffers, matching deltafs_plfsio_internal.cc's
// DirLogger::memory_usage.
func (d *DirLogger) MemoryUsage() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	usage := d.buf0.MemoryUsage() + d.buf1.MemoryUsage()
	usage += d.table.dataBlock.CurrentSizeEstimate()
	usage += d.table.indexBlock.CurrentSizeEstimate()
	return usage
}

// Status returns the first non-OK status latched on this logger.
func (d *DirLogger) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *DirLogger) prepare(force, epochFlush, finalize bool) Status {
	return d.prepareLocked(force, epochFlush, finalize, false)
}

// prepareLocked implements the Prepare state machine from spec.md §4.5.
// Callers must hold d.mu.
func (d *DirLogger) prepareLocked(force, epochFlush, finalize, noWait bool) Status {
	for {
		if !d.status.Ok() {
			return d.status
		}
		threshold := int(float64(d.bufferBytes) * d.opts.MemtableUtil)
		if !force && d.mem.CurrentBufferSize() < threshold {
			return OK
		}
		if d.imm != nil {
			if d.opts.NonBlocking || noWait {
				return BufferFull
			}
			if d.opts.SlowdownMicros > 0 {
				d.mu.Unlock()
				time.Sleep(time.Duration(d.opts.SlowdownMicros) * time.Microsecond)
				d.mu.Lock()
			}
			d.cv.Wait()
			continue
		}
		d.mem.FinishAndSort()
		d.mem.EpochFlush = epochFlush
		d.mem.Finalize = finalize
		d.imm = d.mem
		if d.mem == &d.buf0 {
			d.mem = &d.buf1
		} else {
			d.mem = &d.buf0
		}
		d.scheduleCompactionLocked()
		force = false
		return OK
	}
}

// scheduleCompactionLocked submits the single background compaction this
// directory logger may have in flight at a time. prepareLocked never
// calls this while d.imm is already set (it blocks on the condition
// variable instead, which is how a second Add/Flush "queues" per P9),
// so hasBgCompaction is always false on entry here.
//
// d.mu is released for the duration of the Schedule call itself: an
// InlineScheduler runs doCompaction synchronously, on the caller's own
// goroutine, which is the single-threaded-embedding configuration
// spec.md §4.5 describes; a pool-backed Scheduler instead starts
// doCompaction on one of its own worker goroutines and returns almost
// immediately. Either way prepareLocked has already swapped d.mem to the
// other buffer, so a concurrent Add during the window never writes into
// the buffer being compacted, and d.imm stays non-nil until doCompaction
// clears it, so a concurrent Add/Flush that needs a swap blocks on the
// condition variable rather than racing in a second compaction.
func (d *DirLogger) scheduleCompactionLocked() {
	d.hasBgCompaction = true
	imm := d.imm
	pool := d.opts.CompactionPool
	d.mu.Unlock()
	err := pool.Schedule(context.Background(), func() error {
		d.doCompaction(imm)
		return nil
	})
	d.mu.Lock()
	if err != nil {
		d.imm = nil
		d.hasBgCompaction = false
		if d.status.Ok() {
			d.status = IoError(err)
		}
		d.cv.Broadcast()
	}
}

// doCompaction runs entirely lock-free except for its final handoff: it
// iterates imm's sorted entries into the table logger, then reacquires
// the mutex to clear state and signal waiters.
func (d *DirLogger) doCompaction(imm *WriteBuffer) {
	start := time.Now()
	if d.table.filter != nil {
		d.table.filter.Reset()
	}
	it := imm.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		d.table.Add(it.Key(), it.Value())
	}
	d.table.EndTable(d.table.filter != nil)
	if imm.EpochFlush {
		d.table.EndEpoch()
	}
	if imm.Finalize {
		d.table.Finish()
	}
	d.metrics.ObserveCompaction(time.Since(start).Seconds())

	d.mu.Lock()
	if !d.table.Ok() {
		d.status = d.table.Status()
	}
	imm.Reset()
	d.imm = nil
	d.numFlushCompleted++
	d.hasBgCompaction = false
	d.cv.Broadcast()
	d.mu.Unlock()
}
