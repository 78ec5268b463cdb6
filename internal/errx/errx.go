// Package errx provides application error kinds. The HTTP boundary maps each kind to a
// status code; the storage core only ever attaches kinds, it never renders them.
package errx

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that map it onto a response, such as an
// HTTP status.
type Kind uint8

const (
	Unknown Kind = iota
	Invalid
	NotFound
	Unauthorized
	Conflict
	Unavailable
	Timeout
	Corrupt
	Internal
)

// Error records the operation that failed, how it failed, and the cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// E builds an *Error. A nil err yields nil so E can wrap call results directly.
func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case Invalid:
		return "Invalid"
	case NotFound:
		return "NotFound"
	case Unauthorized:
		return "Unauthorized"
	case Conflict:
		return "Conflict"
	case Unavailable:
		return "Unavailable"
	case Timeout:
		return "Timeout"
	case Corrupt:
		return "Corrupt"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error formats as "op: cause", dropping whichever part is empty.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// OpOf returns the op of the outermost *Error in the chain, or "".
func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Trace lists the op of every *Error in the chain, outermost first. Ops repeated by
// nested wrapping are kept once.
func Trace(err error) []string {
	var ops []string
	for err != nil {
		if e, ok := err.(*Error); ok && e.Op != "" {
			if len(ops) == 0 || ops[len(ops)-1] != e.Op {
				ops = append(ops, e.Op)
			}
		}
		err = errors.Unwrap(err)
	}
	return ops
}

// Cause returns the innermost error of the chain, the one without op prefixes.
func Cause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}
