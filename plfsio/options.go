package plfsio

import (
	"github.com/sirupsen/logrus"

	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/metrics"
)

// DirOptions configures a DirLogger and a Dir. The options struct is the
// configuration surface; norm() fills in defaults exactly the way
// bsm-sntable's WriterOptions.norm() does, rather than scattering
// zero-value checks through the constructors.
type DirOptions struct {
	// Data and index block sizing.
	BlockSize    int
	BlockUtil    float64
	BlockPadding bool
	BlockBuffer  int

	// Memtable sizing.
	MemtableBuffer int
	MemtableUtil   float64
	LgParts        uint
	KeySize        int
	ValueSize      int
	UniqueKeys     bool

	// Bloom filter. Zero disables filter blocks entirely.
	BfBitsPerKey int

	// Index log.
	IndexBuffer     int
	TailPadding     bool
	SkipChecksums   bool
	VerifyChecksums bool

	// Backpressure.
	NonBlocking    bool
	SlowdownMicros int

	// Concurrency.
	CompactionPool Scheduler
	ReaderPool     Scheduler
	AllowEnvThreads bool
	ParallelReads  bool

	// I/O substrate and diagnostics.
	Env     logio.Env
	Metrics *metrics.Registry
	Logger  logrus.FieldLogger
}

const (
	defaultBlockSize      = 64 << 10
	defaultBlockUtil      = 0.996
	defaultMemtableBuffer = 32 << 20
	defaultMemtableUtil   = 1.0
	defaultKeySize        = 8
	defaultValueSize      = 32
	defaultIndexBuffer    = 4 << 20
	kMaxTablesPerEpoch    = 1 << 16
	kMaxEpochs            = 1 << 16
)

// norm returns a copy of o with every unset field replaced by its
// default, leaving o itself untouched.
func (o *DirOptions) norm() *DirOptions {
	var oo DirOptions
	if o != nil {
		oo = *o
	}
	if oo.BlockSize < 1 {
		oo.BlockSize = defaultBlockSize
	}
	if oo.BlockUtil <= 0 || oo.BlockUtil > 1 {
		oo.BlockUtil = defaultBlockUtil
	}
	if oo.MemtableBuffer < 1 {
		oo.MemtableBuffer = defaultMemtableBuffer
	}
	if oo.MemtableUtil <= 0 || oo.MemtableUtil > 1 {
		oo.MemtableUtil = defaultMemtableUtil
	}
	if oo.KeySize < 1 {
		oo.KeySize = defaultKeySize
	}
	if oo.ValueSize < 1 {
		oo.ValueSize = defaultValueSize
	}
	if oo.IndexBuffer < 1 {
		oo.IndexBuffer = defaultIndexBuffer
	}
	if oo.Env == nil {
		oo.Env = logio.DefaultEnv
	}
	if oo.Logger == nil {
		oo.Logger = logrus.StandardLogger()
	}
	if oo.CompactionPool == nil {
		oo.CompactionPool = NewInlineScheduler()
	}
	if oo.ReaderPool == nil {
		oo.ReaderPool = oo.CompactionPool
	}
	return &oo
}

// FlushOptions configures a DirLogger.Flush call.
type FlushOptions struct {
	// DryRun reports what would happen (BufferFull or OK) without
	// actually scheduling a compaction.
	DryRun bool
	// NoWait makes Flush return immediately with BufferFull instead of
	// waiting for room, regardless of DirOptions.NonBlocking.
	NoWait bool
	// EpochFlush marks the compacted buffer as an epoch boundary.
	EpochFlush bool
	// Finalize marks the compacted buffer as the last one: once it has
	// been compacted, the table logger is finished and the directory is
	// closed for writing.
	Finalize bool
}
