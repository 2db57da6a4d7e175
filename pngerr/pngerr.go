// Package pngerr defines the error taxonomy shared by every PngBin layer.
//
// Every failure the codec, crypto, chain, and range-fetch layers can raise
// falls into one of the Kind values below. Callers should not compare
// returned errors against sentinel values directly; use Is instead, since
// every error is wrapped with github.com/pkg/errors for a stack trace.
package pngerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a PngBin error. See spec section 7.
type Kind int

const (
	// InvalidArgument covers bad width/height/offset/key/iv lengths, or
	// dimension products not divisible by 4 on the encrypted path.
	InvalidArgument Kind = iota
	// InvalidPng covers a malformed stored-block header or a row filter
	// byte that isn't 0x00.
	InvalidPng
	// IncompleteRead covers a source returning fewer bytes than requested.
	IncompleteRead
	// EndOfStream covers a chain iterator exhausted before length was
	// satisfied (reader) or before a write fully drained (writer).
	EndOfStream
	// AlreadyFinished covers a write issued after finish/close.
	AlreadyFinished
	// NetRead covers a range fetcher that exhausted its retries or
	// observed a contract violation.
	NetRead
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidPng:
		return "InvalidPng"
	case IncompleteRead:
		return "IncompleteRead"
	case EndOfStream:
		return "EndOfStream"
	case AlreadyFinished:
		return "AlreadyFinished"
	case NetRead:
		return "NetRead"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every PngBin package.
type Error struct {
	Op   string
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("pngbin: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("pngbin: %s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a Kind error for op. Its cause is a github.com/pkg/errors
// error that carries only the kind's name and a stack trace.
func New(op string, kind Kind) error {
	return &Error{Op: op, Kind: kind, err: errors.New(kind.String())}
}

// Newf builds a Kind error for op with a formatted message as its cause.
func Newf(op string, kind Kind, format string, args ...interface{}) error {
	return &Error{Op: op, Kind: kind, err: errors.Errorf(format, args...)}
}

// Wrap attaches op and kind to an existing error, adding a stack trace.
// Returns nil if err is nil.
func Wrap(err error, op string, kind Kind) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, err: errors.WithStack(err)}
}

// Is reports whether the outermost PngBin *Error in err's chain (err itself
// or the first one it wraps) has the given kind. *Error values nested
// deeper inside that one are not examined.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == kind
}

// KindOf extracts the Kind from err, returning ok=false if err is not (or
// does not wrap) a PngBin *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		err = errors.Unwrap(err)
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
