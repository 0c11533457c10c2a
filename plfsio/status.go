// Package plfsio implements a write-optimized, read-capable indexed
// directory store: callers append key/value pairs through a DirLogger,
// which buffers, sorts, and compacts them into a two-log (data + index)
// on-disk format organized into epochs, tables, and blocks; a Dir then
// answers point lookups against that format using per-table key bounds
// and bloom filters to avoid loading unrelated blocks.
package plfsio

import "github.com/pkg/errors"

// Kind enumerates the abstract error taxonomy this store reports.
type Kind int

const (
	// KindOK means no error; Status.Kind() on a nil Status returns this.
	KindOK Kind = iota
	// KindIoError means the underlying storage returned an error.
	KindIoError
	// KindCorruption means a decode-time invariant was violated: a bad
	// CRC, a truncated read, a bad footer, or an undecodable handle.
	KindCorruption
	// KindAssertionFailed means an invariant internal to this store was
	// violated (too many epochs, keys out of order, writing after
	// Finish).
	KindAssertionFailed
	// KindBufferFull means a non-blocking caller would otherwise have
	// blocked waiting for compaction to drain.
	KindBufferFull
	// KindNotFound means no value matched a queried key.
	KindNotFound
	// KindAlreadyClosed means an operation was attempted on a finalized
	// writer or a closed sink/source.
	KindAlreadyClosed
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindIoError:
		return "io error"
	case KindCorruption:
		return "corruption"
	case KindAssertionFailed:
		return "assertion failed"
	case KindBufferFull:
		return "buffer full"
	case KindNotFound:
		return "not found"
	case KindAlreadyClosed:
		return "already closed"
	default:
		return "unknown"
	}
}

// Status is a sticky, kind-tagged error: the table logger and directory
// logger latch the first non-OK Status returned by any operation and
// return it from every subsequent call on that instance, rather than
// unwinding via panic/recover.
type Status struct {
	kind Kind
	err  error
}

// OK is the zero Status: no error.
var OK = Status{}

// NewStatus wraps err with kind, attaching a stack-bearing cause via
// github.com/pkg/errors so the original site of the failure survives
// being latched and re-returned later.
func NewStatus(kind Kind, err error) Status {
	if err == nil {
		return Status{kind: kind}
	}
	return Status{kind: kind, err: errors.WithStack(err)}
}

// IoError builds a Status of KindIoError wrapping err.
func IoError(err error) Status { return NewStatus(KindIoError, err) }

// Corruption builds a Status of KindCorruption with the given message.
func Corruption(msg string) Status { return NewStatus(KindCorruption, errors.New(msg)) }

// AssertionFailed builds a Status of KindAssertionFailed with the given
// message.
func AssertionFailed(msg string) Status { return NewStatus(KindAssertionFailed, errors.New(msg)) }

// BufferFull is the sentinel non-blocking backpressure Status.
var BufferFull = NewStatus(KindBufferFull, errors.New("buffer full"))

// AlreadyClosed builds a Status of KindAlreadyClosed with the given
// message.
func AlreadyClosed(msg string) Status { return NewStatus(KindAlreadyClosed, errors.New(msg)) }

// Ok reports whether s carries no error.
func (s Status) Ok() bool { return s.kind == KindOK }

// Kind reports s's error kind.
func (s Status) Kind() Kind { return s.kind }

// Error implements the error interface so a Status can be returned
// directly wherever Go code expects an error.
func (s Status) Error() string {
	if s.Ok() {
		return "ok"
	}
	if s.err == nil {
		return s.kind.String()
	}
	return s.kind.String() + ": " + s.err.Error()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As and for
// github.com/pkg/errors.Cause.
func (s Status) Unwrap() error { return s.err }

// AsError returns s as an error, or nil if s is OK. Useful at API
// boundaries that must return a plain error rather than a Status value.
func (s Status) AsError() error {
	if s.Ok() {
		return nil
	}
	return s
}
