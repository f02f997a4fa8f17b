// Package errs defines the error taxonomy shared by the ledger, the offline
// queue and the sync orchestrator.
//
// Every error that crosses a component boundary is an *Error carrying a Kind.
// Callers branch on the kind, never on the message:
//
//	if errors.Is(err, errs.ErrNotFound) { ... }
//	switch errs.KindOf(err) { ... }
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how callers must react to it.
type Kind uint8

const (
	// KindInternal is an unclassified failure (I/O, bugs, auth misconfiguration).
	KindInternal Kind = iota
	// KindValidation is malformed input. Never retried.
	KindValidation
	// KindNotFound means a referenced group, user, expense or payment is absent. Never retried.
	KindNotFound
	// KindConflict means remote state diverged and needs manual resolution.
	KindConflict
	// KindTransient covers timeouts, 5xx and rate limiting. Retried with backoff.
	KindTransient
	// KindInvariant means ledger math is broken. Fatal for the computation.
	KindInvariant
)

var kindNames = map[Kind]string{
	KindInternal:   "internal",
	KindValidation: "validation",
	KindNotFound:   "not_found",
	KindConflict:   "conflict",
	KindTransient:  "transient",
	KindInvariant:  "invariant_violation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindInternal.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindInternal
}

// Error is a classified error.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "ledger.RecordExpense".
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare kind sentinel matching e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrInternal   = &Error{Kind: KindInternal}
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrTransient  = &Error{Kind: KindTransient}
	ErrInvariant  = &Error{Kind: KindInvariant}
)

// Validation returns a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Invariant returns a KindInvariant error.
func Invariant(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvariant, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps err as retryable.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Wrap classifies err with the given kind.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Deadline
// overruns count as transient; anything else unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}

// IsRetryable reports whether the sync orchestrator may resubmit after err.
// Internal errors are retried too: they are bounded by the attempt limit and
// never lose the mutation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindInternal:
		return true
	default:
		return false
	}
}
