package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures raised by the gateway core.
type ErrorKind int

const (
	// KindAny is an unclassified failure.
	KindAny ErrorKind = iota
	// KindUser is a 4xx-class input or validation problem.
	KindUser
	// KindNotFound names an unknown id or an empty lookup.
	KindNotFound
	// KindInternal is a store, bus, or upstream-connection failure.
	KindInternal
)

// Error carries an error kind alongside the message so HTTP surfaces can
// map failures to status codes in one place.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// UserError builds a KindUser error.
func UserError(format string, args ...any) error {
	return &Error{Kind: KindUser, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError builds a KindNotFound error.
func NotFoundError(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// InternalError wraps err as a KindInternal failure.
func InternalError(err error, format string, args ...any) error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the error kind, defaulting to KindAny.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAny
}

// HTTPStatus maps an error to the HTTP status the admin and proxy surfaces
// report for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUser:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
