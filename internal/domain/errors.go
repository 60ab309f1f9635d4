package domain

import (
	"fmt"
	"maps"

	pkgerrors "github.com/pkg/errors"
)

type Kind string

const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindCurrencyMismatch  Kind = "currency_mismatch"
)

// Fields carries arbitrary named details of an Error.
type Fields map[string]any

// Reserved field names. Their values are derived by the error itself and are
// dropped from caller-supplied Fields.
const (
	FieldStack = "stack"
	FieldCause = "cause"
	FieldName  = "name"
)

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrCurrencyMismatch  = &Error{Kind: KindCurrencyMismatch, Message: "currency mismatch"}
)

// Error is a business-level failure. Two errors match with errors.Is when
// their kinds are equal, so the package-level sentinels can be used as
// targets for errors built with NewError.
type Error struct {
	Kind    Kind
	Message string

	fields Fields
	cause  error
	trace  error
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func NewError(kind Kind, msg string, fields Fields) *Error {
	return newError(nil, kind, msg, fields)
}

func WrapError(cause error, kind Kind, msg string, fields Fields) *Error {
	return newError(cause, kind, msg, fields)
}

func newError(cause error, kind Kind, msg string, fields Fields) *Error {
	e := &Error{
		Kind:    kind,
		Message: msg,
		cause:   cause,
		trace:   pkgerrors.New(msg),
	}
	for k, v := range fields {
		if isReserved(k) {
			continue
		}
		if e.fields == nil {
			e.fields = make(Fields, len(fields))
		}
		e.fields[k] = v
	}
	return e
}

func isReserved(k string) bool {
	return k == FieldStack || k == FieldCause || k == FieldName
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Name is the error-kind name.
func (e *Error) Name() string { return string(e.Kind) }

func (e *Error) Cause() error { return e.cause }

// Stack returns the call stack captured when the error was built, or an empty
// string for the package-level sentinels.
func (e *Error) Stack() string {
	st, ok := e.trace.(stackTracer)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%+v", st.StackTrace())
}

// Fields returns a copy of the caller-supplied fields.
func (e *Error) Fields() Fields {
	return maps.Clone(e.fields)
}

// Describe returns the caller fields together with the derived name, cause
// and stack entries.
func (e *Error) Describe() Fields {
	out := make(Fields, len(e.fields)+3)
	maps.Copy(out, e.fields)
	out[FieldName] = e.Name()
	if e.cause != nil {
		out[FieldCause] = e.cause.Error()
	}
	if s := e.Stack(); s != "" {
		out[FieldStack] = s
	}
	return out
}
