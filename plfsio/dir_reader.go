package plfsio

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/dlambrig/deltafs/plfsio/block"
	"github.com/dlambrig/deltafs/plfsio/filter"
	"github.com/dlambrig/deltafs/plfsio/format"
	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/metrics"
)

// Dir is the reader half of this store: it bootstraps from the index
// log's footer, then answers point lookups by walking the root meta
// block for each epoch, pruning candidate tables with key bounds and
// bloom filters before ever touching a data block. It replaces the
// teacher's SSTable reader (sstable/reader.go), which only ever opened
// one flat table; this reader additionally fans out across epochs and
// reconciles results from out-of-order parallel completions.
type Dir struct {
	opts        *DirOptions
	dataSource  *logio.LogSource
	indexSource *logio.LogSource
	metrics     *metrics.Registry

	metaReader *block.Reader
	numEpochs  uint32

	mu           sync.Mutex
	numOpenReads int
	readsDone    *sync.Cond
}

// Open bootstraps a Dir: it reads the trailing Footer::ENCODE_LEN bytes
// of the index log, decodes the footer, and loads the root meta block at
// the handle it carries.
func Open(opts *DirOptions, dataSource, indexSource *logio.LogSource) (*Dir, Status) {
	opts = opts.norm()
	size := indexSource.Size()
	if size < format.FooterEncodeLen {
		return nil, Corruption("index log too small for a footer")
	}
	footerBuf, err := indexSource.Read(size-format.FooterEncodeLen, format.FooterEncodeLen, nil)
	if err != nil {
		return nil, IoError(err)
	}
	footer, err := format.DecodeFooter(footerBuf)
	if err != nil {
		return nil, Corruption(err.Error())
	}

	rawLen := int(footer.EpochIndex.Size) + format.BlockTrailerSize
	raw, err := indexSource.Read(int64(footer.EpochIndex.Offset), rawLen, nil)
	if err != nil {
		return nil, IoError(err)
	}
	body, err := block.Decode(raw, !opts.SkipChecksums)
	if err != nil {
		if err == block.ErrCorruption {
			return nil, Corruption("root meta block checksum mismatch")
		}
		return nil, Corruption(err.Error())
	}
	metaReader, err := block.NewReader(body)
	if err != nil {
		return nil, Corruption(err.Error())
	}

	dataSource.Ref()
	indexSource.Ref()
	d := &Dir{
		opts:        opts,
		dataSource:  dataSource,
		indexSource: indexSource,
		metrics:     opts.Metrics,
		metaReader:  metaReader,
		numEpochs:   footer.NumEpochs,
	}
	d.readsDone = sync.NewCond(&d.mu)
	return d, OK
}

// saver receives every (key, value) pair a Get call matches, in the
// order it encounters them within one epoch's tables.
type saver interface {
	save(key, value []byte)
}

// serialSaver appends values directly to the destination buffer in
// encounter order, used when parallel_reads is false.
type serialSaver struct {
	out *bytes.Buffer
}

func (s *serialSaver) save(_ []byte, value []byte) {
	s.out.Write(value)
}

// parallelRecord is one value captured by a parallelSaver, tagged with
// the epoch it came from so the merge step can restore serial order.
type parallelRecord struct {
	epoch uint32
	seq   int
	value []byte
}

// parallelSaver records values under a mutex so concurrently running
// per-epoch Get tasks can share one destination without racing; the
// epoch+seq tag lets Read's merge step reconstruct the order a serial
// run would have produced.
type parallelSaver struct {
	mu      sync.Mutex
	records []parallelRecord
	seq     int
}

func (s *parallelSaver) save(epoch uint32, value []byte) {
	s.mu.Lock()
	s.records = append(s.records, parallelRecord{epoch: epoch, seq: s.seq, value: append([]byte(nil), value...)})
	s.seq++
	s.mu.Unlock()
}

// Read resolves a point lookup, fanning out one task per epoch. In
// serial mode (opts.ParallelReads == false) the epochs are visited in
// order and values are appended directly. In parallel mode, tasks run
// concurrently through opts.ReaderPool and the results are stably
// sorted by epoch id before concatenation, so the two modes are
// byte-identical (testable property P10).
func (d *Dir) Read(key []byte) ([]byte, Status) {
	if d.opts.ParallelReads {
		return d.readParallel(key)
	}
	return d.readSerial(key)
}

func (d *Dir) readSerial(key []byte) ([]byte, Status) {
	out := &bytes.Buffer{}
	sv := &serialSaver{out: out}
	for epoch := uint32(0); epoch < d.numEpochs; epoch++ {
		if err := d.get(key, epoch, sv); err != nil {
			return nil, err.(Status)
		}
	}
	return out.Bytes(), OK
}

func (d *Dir) readParallel(key []byte) ([]byte, Status) {
	sv := &parallelSaver{}
	var firstErr error
	var errMu sync.Mutex

	d.mu.Lock()
	d.numOpenReads += int(d.numEpochs)
	d.mu.Unlock()

	for epoch := uint32(0); epoch < d.numEpochs; epoch++ {
		epoch := epoch
		task := func() error {
			defer func() {
				d.mu.Lock()
				d.numOpenReads--
				if d.numOpenReads == 0 {
					d.readsDone.Broadcast()
				}
				d.mu.Unlock()
			}()
			if err := d.get(key, epoch, epochSaver{epoch: epoch, sv: sv}); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
			return nil
		}
		_ = d.opts.ReaderPool.Schedule(context.Background(), task)
	}

	d.mu.Lock()
	for d.numOpenReads > 0 {
		d.readsDone.Wait()
	}
	d.mu.Unlock()

	if firstErr != nil {
		return nil, firstErr.(Status)
	}

	sort.SliceStable(sv.records, func(i, j int) bool {
		if sv.records[i].epoch != sv.records[j].epoch {
			return sv.records[i].epoch < sv.records[j].epoch
		}
		return sv.records[i].seq < sv.records[j].seq
	})
	out := &bytes.Buffer{}
	for _, r := range sv.records {
		out.Write(r.value)
	}
	return out.Bytes(), OK
}

// epochSaver adapts a parallelSaver to the per-call saver interface,
// stamping every value it forwards with the epoch its Get ran against.
type epochSaver struct {
	epoch uint32
	sv    *parallelSaver
}

func (e epochSaver) save(_ []byte, value []byte) {
	e.sv.save(e.epoch, value)
}

// get walks epoch's tables in the root meta block starting at
// EpochKey(epoch, 0), stopping once the decoded key's epoch component no
// longer matches.
func (d *Dir) get(key []byte, epoch uint32, sv saver) error {
	it := d.metaReader.NewIterator()
	it.Seek(format.EpochKey(epoch, 0))
	for it.Valid() {
		gotEpoch, _ := format.DecodeEpochKey(it.Key())
		if gotEpoch != epoch {
			break
		}
		handle, _, err := format.DecodeTableHandle(it.Value())
		if err != nil {
			return Corruption(err.Error())
		}
		if err := d.getFromTable(key, handle, sv); err != nil {
			return err
		}
		it.Next()
	}
	if err := it.Status(); err != nil {
		return Corruption(err.Error())
	}
	return nil
}

func (d *Dir) getFromTable(key []byte, handle format.TableHandle, sv saver) error {
	if bytes.Compare(key, handle.SmallestKey) < 0 || bytes.Compare(key, handle.LargestKey) > 0 {
		return nil
	}
	if handle.FilterSize > 0 {
		// A filter I/O or decode error degrades to "may match" rather
		// than surfacing: a false positive here only costs an extra
		// block read, while a false negative would silently drop data.
		raw, err := d.indexSource.Read(int64(handle.FilterOffset), int(handle.FilterSize), nil)
		if err == nil {
			var filterBody []byte
			filterBody, err = block.Decode(raw, !d.opts.SkipChecksums)
			if err == nil && !filter.KeyMayMatch(filterBody, key) {
				d.observeBloom(metrics.OutcomeTrueNegative)
				return nil
			}
		}
	}

	idxRawLen := int(handle.Index.Size) + format.BlockTrailerSize
	idxRaw, err := d.indexSource.Read(int64(handle.Index.Offset), idxRawLen, nil)
	if err != nil {
		return IoError(err)
	}
	idxBody, err := block.Decode(idxRaw, !d.opts.SkipChecksums)
	if err != nil {
		return Corruption("index block checksum mismatch")
	}
	idxReader, err := block.NewReader(idxBody)
	if err != nil {
		return Corruption(err.Error())
	}
	idxIt := idxReader.NewIterator()
	idxIt.Seek(key)
	if !idxIt.Valid() {
		return nil
	}
	dataHandle, _, err := format.DecodeBlockHandle(idxIt.Value())
	if err != nil {
		return Corruption(err.Error())
	}

	dataRawLen := int(dataHandle.Size) + format.BlockTrailerSize
	dataRaw, err := d.dataSource.Read(int64(dataHandle.Offset), dataRawLen, nil)
	if err != nil {
		return IoError(err)
	}
	dataBody, err := block.Decode(dataRaw, !d.opts.SkipChecksums)
	if err != nil {
		return Corruption("data block checksum mismatch")
	}
	dataReader, err := block.NewReader(dataBody)
	if err != nil {
		return Corruption(err.Error())
	}
	dataIt := dataReader.NewIterator()
	dataIt.Seek(key)
	found := false
	for dataIt.Valid() && bytes.Equal(dataIt.Key(), key) {
		sv.save(key, dataIt.Value())
		found = true
		if d.opts.UniqueKeys {
			break
		}
		dataIt.Next()
	}
	if found {
		d.observeBloom(metrics.OutcomeTruePositive)
	} else if handle.FilterSize > 0 {
		d.observeBloom(metrics.OutcomeFalsePositive)
	}
	return nil
}

func (d *Dir) observeBloom(outcome string) {
	d.metrics.ObserveBloomOutcome(outcome)
}

// Close releases this Dir's references on its sources.
func (d *Dir) Close() error {
	d.mu.Lock()
	for d.numOpenReads > 0 {
		d.readsDone.Wait()
	}
	d.mu.Unlock()
	if err := d.dataSource.Unref(); err != nil {
		return err
	}
	return d.indexSource.Unref()
}
