package storage

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a storage error so callers can distinguish programmer
// errors from recoverable I/O failures without string-matching messages.
type Kind int

const (
	// KindConfigOutOfRange: a construction parameter is out of its valid
	// range (non-positive page size, non-multiple-of-1024 page size).
	KindConfigOutOfRange Kind = iota
	// KindNotInitialized: pico.db is absent on open.
	KindNotInitialized
	// KindAccessDenied: a file open or mkdir failed for permission reasons.
	KindAccessDenied
	// KindAlreadyExists: Create was called on an existing directory
	// without overwrite.
	KindAlreadyExists
	// KindPageSizeMismatch: WritePage was called with a wrong-length
	// buffer.
	KindPageSizeMismatch
	// KindIoError: any other read/write/stat failure.
	KindIoError
	// KindBufferPoolOverflow: eviction could not find an unpinned victim.
	// Raised by internal/bufferpool, which shares this error type so
	// callers can errors.As a single *Error regardless of which layer of
	// the storage core raised it.
	KindBufferPoolOverflow
)

func (k Kind) String() string {
	switch k {
	case KindConfigOutOfRange:
		return "ConfigOutOfRange"
	case KindNotInitialized:
		return "NotInitialized"
	case KindAccessDenied:
		return "AccessDenied"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindPageSizeMismatch:
		return "PageSizeMismatch"
	case KindIoError:
		return "IoError"
	case KindBufferPoolOverflow:
		return "BufferPoolOverflow"
	default:
		return "Unknown"
	}
}

// Error is the typed error every Storage Manager operation returns on
// failure. A caller can both switch on Kind and unwrap to the underlying
// cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr constructs a *Error. cause, when present, is preserved verbatim
// behind Unwrap so callers can still reach the raw *os.PathError (or a
// github.com/pkg/errors-wrapped cause added by the call site) with
// errors.As/errors.Is.
func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// New is the exported form of newErr, used by internal/bufferpool to raise
// ConfigOutOfRange and BufferPoolOverflow as the same *Error type the
// Storage Manager itself returns.
func New(kind Kind, op string, cause error) *Error {
	return newErr(kind, op, cause)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// Cause unwraps a github.com/pkg/errors-wrapped cause down to its root,
// for logging the original *os.PathError a call site attached context to.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}
