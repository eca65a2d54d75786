// Package daqcore defines the shared error vocabulary used across the
// DAQ host library: SD-card log parsing, bootloader firmware updates, and
// clock reconstruction all report failures through the same Kind enum so
// callers can branch on errors.Is/errors.As regardless of which
// subsystem produced them.
package daqcore

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError the way a caller needs to react to it.
type Kind int

const (
	_ Kind = iota
	Cancelled
	Timeout
	InvalidArgument
	InvalidOperation
	NotFound
	MalformedRecord
	InvalidData
	Io
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Cancelled:
		return "cancelled"
	case Timeout:
		return "timeout"
	case InvalidArgument:
		return "invalid argument"
	case InvalidOperation:
		return "invalid operation"
	case NotFound:
		return "not found"
	case MalformedRecord:
		return "malformed record"
	case InvalidData:
		return "invalid data"
	case Io:
		return "io"
	case RateLimited:
		return "rate limited"
	default:
		return "unknown"
	}
}

// CoreError wraps an underlying cause with the operation that failed and
// the Kind a caller should dispatch on. Op is a short "component.Verb"
// label, e.g. "hexfile.Parse" or "bootloader.Program".
type CoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is reports whether target is a *CoreError with the same Kind, so
// errors.Is(err, &CoreError{Kind: Timeout}) style checks work without
// callers needing to know the Op or wrapped cause.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// NewError constructs a *CoreError. err may be nil.
func NewError(kind Kind, op string, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *CoreError.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}
