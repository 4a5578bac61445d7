// Package eventerr classifies event-processing failures into a closed set of
// kinds that drive the consumer's retry, dead-letter, or acknowledge decision.
package eventerr

import (
	"errors"
	"fmt"
)

// Kind is the retry class of a failure.
type Kind int

const (
	// KindTransient is retry-eligible: infrastructure hiccups, ambiguous commits,
	// and anything unclassified.
	KindTransient Kind = iota + 1
	// KindPermanent is terminal and goes to the dead-letter sink.
	KindPermanent
	// KindConflict means the work was already done (duplicate key on an
	// idempotency or outbox insert) and is treated as success.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Err is the optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient returns a retry-eligible error.
func Transient(msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Msg: msg, Err: cause}
}

// Permanent returns a terminal error.
func Permanent(msg string, cause error) *Error {
	return &Error{Kind: KindPermanent, Msg: msg, Err: cause}
}

// Permanentf formats a terminal error with no cause.
func Permanentf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermanent, Msg: fmt.Sprintf(format, args...)}
}

// Conflict marks an already-applied operation.
func Conflict(msg string, cause error) *Error {
	return &Error{Kind: KindConflict, Msg: msg, Err: cause}
}

// KindOf returns the kind of err. Unclassified errors are transient; nil has
// kind zero.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Wrap classifies err as transient unless it already carries a kind.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Transient("", err)
}

// IsTransient reports whether err is non-nil and retry-eligible. Unclassified
// errors count as transient.
func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

// IsPermanent reports whether err was explicitly marked terminal.
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }

// IsConflict reports whether err marks an already-applied operation.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }
