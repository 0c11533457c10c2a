package logio

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// RotationType selects how a LogSink moves to a new underlying file.
type RotationType int

const (
	// RotationNone means a sink never rotates; Lrotate is an error.
	RotationNone RotationType = iota
	// RotationExternalControl means the caller drives rotation by
	// supplying a monotonically increasing piece index to Lrotate.
	RotationExternalControl
)

// SinkOptions configures a LogSink's optional buffering and rotation
// layers. A zero value means unbuffered, non-rotating.
type SinkOptions struct {
	Rotation RotationType
	// MinBufferSize/MaxBufferSize bound the optional write-coalescing
	// buffer: writes accumulate until at least MinBufferSize bytes are
	// queued, and are never allowed to exceed MaxBufferSize before being
	// flushed. Zero disables buffering (every Lwrite goes straight to
	// the file).
	MinBufferSize int
	MaxBufferSize int
}

// LogSink is an append-only, reference-counted log file with a logical
// offset that stays monotonic across rotation. Grounded on
// memtable/wal.go's mutex-guarded *os.File writer, generalized with
// buffering, rotation, and an optional shared lock for sinks written by
// more than one partition.
type LogSink struct {
	mu       sync.Mutex
	refcount int32
	env      Env
	base     string
	opts     SinkOptions
	file     WritableFile
	piece    int
	offset   int64
	buf      []byte
	closed   bool

	// sharedMu, when non-nil, is an externally supplied lock callers
	// take around Lwrite to serialize access to a sink shared across
	// partitions. It is distinct from mu, which only protects this
	// LogSink's own bookkeeping.
	sharedMu *sync.Mutex
}

// NewLogSink creates a log sink writing pieces named base, base.1,
// base.2, ... under env, with an initial reference count of 1.
func NewLogSink(env Env, base string, opts SinkOptions, sharedMu *sync.Mutex) (*LogSink, error) {
	f, err := env.NewWritableFile(base)
	if err != nil {
		return nil, errors.Wrapf(err, "logio: open sink %q", base)
	}
	return &LogSink{
		refcount: 1,
		env:      env,
		base:     base,
		opts:     opts,
		file:     f,
		sharedMu: sharedMu,
	}, nil
}

// Ref increments the reference count.
func (s *LogSink) Ref() {
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
}

// Unref decrements the reference count, closing the sink once it reaches
// zero.
func (s *LogSink) Unref() error {
	s.mu.Lock()
	s.refcount--
	n := s.refcount
	s.mu.Unlock()
	if n <= 0 {
		return s.Lclose(true)
	}
	return nil
}

// Lock acquires the sink's shared lock, if one was supplied; it is a
// no-op for sinks owned by a single writer.
func (s *LogSink) Lock() {
	if s.sharedMu != nil {
		s.sharedMu.Lock()
	}
}

// Unlock releases the shared lock acquired by Lock.
func (s *LogSink) Unlock() {
	if s.sharedMu != nil {
		s.sharedMu.Unlock()
	}
}

// Ltell returns the sink's current logical offset: the sum of bytes
// accepted by Lwrite across every piece since construction, including
// whatever still sits unflushed in the buffer.
func (s *LogSink) Ltell() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Lwrite appends data, advancing the logical offset only on success. If
// buffering is configured, data is coalesced until MinBufferSize is
// reached; MaxBufferSize is enforced as a hard cap forcing a flush first.
func (s *LogSink) Lwrite(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("logio: write to closed sink")
	}
	if s.opts.MaxBufferSize > 0 && len(s.buf)+len(data) > s.opts.MaxBufferSize {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	if s.opts.MinBufferSize > 0 {
		s.buf = append(s.buf, data...)
		if len(s.buf) >= s.opts.MinBufferSize {
			if err := s.flushLocked(); err != nil {
				return err
			}
		}
		s.offset += int64(len(data))
		return nil
	}
	n, err := s.file.Write(data)
	s.offset += int64(n)
	if err != nil {
		return errors.Wrap(err, "logio: write")
	}
	return nil
}

func (s *LogSink) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}
	_, err := s.file.Write(s.buf)
	s.buf = s.buf[:0]
	if err != nil {
		return errors.Wrap(err, "logio: flush buffer")
	}
	return nil
}

// Lsync forces the current piece's data to durable storage.
func (s *LogSink) Lsync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Lclose flushes, optionally syncs, and closes the current piece. It does
// not check the reference count; callers normally reach this through
// Unref.
func (s *LogSink) Lclose(sync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if sync {
		if err := s.file.Sync(); err != nil {
			return errors.Wrap(err, "logio: sync on close")
		}
	}
	s.closed = true
	return s.file.Close()
}

// Lrotate closes the current piece and opens piece number index, which
// must be configured via SinkOptions.Rotation = RotationExternalControl.
// The logical offset returned by Ltell keeps counting across the
// rotation boundary.
func (s *LogSink) Lrotate(index int, sync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.Rotation != RotationExternalControl {
		return errors.New("logio: sink is not configured for rotation")
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if sync {
		if err := s.file.Sync(); err != nil {
			return errors.Wrap(err, "logio: sync before rotate")
		}
	}
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, "logio: close piece before rotate")
	}
	name := fmt.Sprintf("%s.%d", s.base, index)
	f, err := s.env.NewWritableFile(name)
	if err != nil {
		return errors.Wrapf(err, "logio: open rotated piece %q", name)
	}
	s.file = f
	s.piece = index
	return nil
}
