package db

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Error kinds. Every error returned by the store that callers are expected
// to act on wraps exactly one of these; test with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrBusy         = errors.New("database busy")
)

// Error is a structured store error
type Error struct {
	Kind   error  // one of the Err* kinds above
	Op     string // operation, e.g. "delete session"
	Entity string // entity type, e.g. "session"
	ID     string // entity id or key, if any
	Msg    string
	Err    error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Entity != "" && e.ID != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Entity, e.ID, msg)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's kind
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationErr(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFoundErr(op, entity, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, Entity: entity, ID: id, Msg: "not found"}
}

func invalidStateErr(op, entity, id, format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Op: op, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

func conflictErr(op, entity, id, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// driverClassifiers map driver-specific errors to a kind. The modernc
// classifier is always present; cgo builds add one for mattn/go-sqlite3.
var driverClassifiers = []func(error) error{classifyModernc}

func classifyModernc(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	return kindForCode(se.Code())
}

func kindForCode(code int) error {
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ErrBusy
	case sqlite3.SQLITE_CONSTRAINT:
		return ErrConflict
	}
	return nil
}

// classify wraps a raw driver error with its kind, leaving store errors and
// unrecognized errors untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	for _, c := range driverClassifiers {
		if kind := c(err); kind != nil {
			return &Error{Kind: kind, Op: op, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// KindName returns a stable snake_case name for err's kind, or "internal"
// when err carries none
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrBusy):
		return "busy"
	}
	return "internal"
}
