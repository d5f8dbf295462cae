// Package apperr is the error taxonomy shared by the match, chat and profile
// services. Handlers map a Kind to an HTTP status; callers match kinds with
// errors.Is against the Err* sentinels.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindOperation Kind = iota
	KindValidation
	KindNotFound
	KindDataAccess
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrDataAccess = errors.New("data access error")
	ErrOperation  = errors.New("operation error")
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDataAccess:
		return "data_access"
	default:
		return "operation"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindDataAccess:
		return ErrDataAccess
	default:
		return ErrOperation
	}
}

// Error carries the failing operation, a message safe to show to a user,
// and the underlying cause (if any).
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func DataAccess(op, msg string, err error) error {
	return &Error{Kind: KindDataAccess, Op: op, Msg: msg, Err: err}
}

func Operation(op, msg string, err error) error {
	return &Error{Kind: KindOperation, Op: op, Msg: msg, Err: err}
}

// KindOf reports the kind of err. Errors outside the taxonomy are treated as
// operation errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOperation
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "unexpected error"
}

// Recover converts a panic in the calling operation into an operation
// error. Use as: defer apperr.Recover("match.Join", &err).
func Recover(op string, errp *error) {
	if r := recover(); r != nil {
		*errp = &Error{Kind: KindOperation, Op: op, Msg: "unexpected failure", Err: fmt.Errorf("panic: %v", r)}
	}
}
