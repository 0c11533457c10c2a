package logio

import (
	"sync"

	"github.com/pkg/errors"
)

// LogSource is a reference-counted, read-only handle over a log file.
// Concurrent reads are permitted; the reference count only guards the
// underlying file's lifetime, not access to it.
type LogSource struct {
	mu       sync.Mutex
	refcount int32
	file     ReaderAtCloser
	size     int64
	closed   bool

	// prefetched, when non-nil, holds the whole file's bytes in memory;
	// used for index logs, which are small enough to cache wholesale and
	// read from repeatedly during a single Dir.Read fan-out.
	prefetched []byte
}

// OpenLogSource opens name under env with an initial reference count of
// 1. If prefetch is true, the entire file is read into memory up front.
func OpenLogSource(env Env, name string, prefetch bool) (*LogSource, error) {
	f, err := env.NewRandomAccessFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "logio: open source %q", name)
	}
	size, err := env.FileSize(name)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "logio: stat source %q", name)
	}
	src := &LogSource{refcount: 1, file: f, size: size}
	if prefetch {
		buf := make([]byte, size)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "logio: prefetch source %q", name)
		}
		src.prefetched = buf
	}
	return src, nil
}

// Ref increments the reference count.
func (s *LogSource) Ref() {
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
}

// Unref decrements the reference count, closing the source once it
// reaches zero.
func (s *LogSource) Unref() error {
	s.mu.Lock()
	s.refcount--
	n := s.refcount
	closed := s.closed
	if n <= 0 && !closed {
		s.closed = true
	}
	s.mu.Unlock()
	if n <= 0 && !closed {
		return s.file.Close()
	}
	return nil
}

// Size returns the file's size as observed at open time.
func (s *LogSource) Size() int64 {
	return s.size
}

// Read returns n bytes starting at offset, using scratch as backing
// storage when it is large enough to avoid an allocation.
func (s *LogSource) Read(offset int64, n int, scratch []byte) ([]byte, error) {
	if offset < 0 || offset+int64(n) > s.size {
		return nil, errors.New("logio: read out of range")
	}
	if s.prefetched != nil {
		return s.prefetched[offset : offset+int64(n)], nil
	}
	var buf []byte
	if len(scratch) >= n {
		buf = scratch[:n]
	} else {
		buf = make([]byte, n)
	}
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, errors.Wrap(err, "logio: read")
	}
	return buf, nil
}
