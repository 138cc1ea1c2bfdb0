package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding whether to retry or report
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Media error codes
const (
	CodeTooLarge         = "too_large"
	CodeWrongType        = "wrong_type"
	CodeStoreUnavailable = "store_unavailable"
)

// Error is the error type returned by every public operation of the core
type Error struct {
	Kind Kind
	Code string // optional machine-readable reason
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind (and code when the target sets one) so that
// errors.Is(err, apperr.ErrTooLarge) works without identity comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrTransient     = &Error{Kind: KindTransient}
	ErrFatal         = &Error{Kind: KindFatal}

	ErrTooLarge         = &Error{Kind: KindValidation, Code: CodeTooLarge}
	ErrWrongType        = &Error{Kind: KindValidation, Code: CodeWrongType}
	ErrStoreUnavailable = &Error{Kind: KindTransient, Code: CodeStoreUnavailable}
)

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Authorization(op, format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps an infrastructure failure. Retrying the whole operation is safe.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Msg: "temporarily unavailable", Err: err}
}

func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Msg: "unrecoverable store error", Err: err}
}

// WithCode returns a copy of e carrying code
func WithCode(e *Error, code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// KindOf reports the kind of err. Context cancellation counts as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code of err, if any
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Wrap converts an arbitrary infrastructure error into a Transient error
// unless it already carries a kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Transient(op, err)
}
