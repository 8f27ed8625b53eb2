// Package rpcerr defines the typed failures of church-rpc.
//
// Every failure a caller can observe carries a Kind. Kinds survive the wire:
// the callee turns an error into a message.Failure, and the caller rebuilds an
// *Error of the same Kind, so errors.Is(err, rpcerr.ErrNotFound) holds for a
// remote call exactly as it does for a local one.
package rpcerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindInternal      Kind = iota // Service returned an untyped error or panicked
	KindConfiguration             // Host built from an invalid configuration (startup only)
	KindArgument                  // Absent/invalid argument, rejected before any work
	KindDecode                    // Payload bytes do not fit the expected type
	KindUnresolved                // No usable network address
	KindNotFound                  // No service registered under the requested name
	KindCanceled                  // Caller abandoned the call
	KindTimeout                   // Deadline exceeded
	KindUnavailable               // Transport closed or call rejected by a limiter
)

var kindNames = [...]string{
	KindInternal:      "internal",
	KindConfiguration: "configuration",
	KindArgument:      "argument",
	KindDecode:        "decode",
	KindUnresolved:    "unresolved",
	KindNotFound:      "not_found",
	KindCanceled:      "canceled",
	KindTimeout:       "timeout",
	KindUnavailable:   "unavailable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindInternal.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return Kind(k)
		}
	}
	return KindInternal
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInternal      = &Error{Kind: KindInternal}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrArgument      = &Error{Kind: KindArgument}
	ErrDecode        = &Error{Kind: KindDecode}
	ErrUnresolved    = &Error{Kind: KindUnresolved}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrCanceled      = &Error{Kind: KindCanceled}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
)

// Error is a failure with a Kind, the operation that produced it and an
// optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New returns an *Error of kind k for operation op.
func New(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of kind k wrapping err. A nil err yields nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": " + e.Err.Error()
		} else {
			msg = e.Err.Error()
		}
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err. Context errors map to KindCanceled and
// KindTimeout; any other error is KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}

// FromContext converts ctx.Err() into a typed failure for op.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
