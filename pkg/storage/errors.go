package storage

import (
	"errors"
	"fmt"
)

// Error kinds returned by every Storage implementation. Use errors.Is to
// test for them; the transport cause stays reachable through the same
// error chain.
var (
	// ErrConfiguration means a required option is missing or invalid
	ErrConfiguration = errors.New("invalid storage configuration")
	// ErrUnreachable means the session or network is unusable
	ErrUnreachable = errors.New("storage unreachable")
	// ErrDenied means the credential was rejected or lacks permission
	ErrDenied = errors.New("storage access denied")
	// ErrNotFound means the requested name does not exist
	ErrNotFound = errors.New("storage object not found")
	// ErrIO means a transfer was interrupted or corrupted
	ErrIO = errors.New("storage i/o failure")

	// ErrInvalidName means a name is not a single element inside the root
	ErrInvalidName = errors.New("invalid storage object name")
	// ErrClosed means the storage was used after Close
	ErrClosed = errors.New("storage is closed")
)

var kinds = []error{
	ErrConfiguration,
	ErrUnreachable,
	ErrDenied,
	ErrNotFound,
	ErrIO,
	ErrInvalidName,
	ErrClosed,
}

// Error describes a failed storage operation.
type Error struct {
	// Backend is the storage type, e.g. "sftp"
	Backend string
	// Op is the operation that failed, e.g. "write"
	Op string
	// Name is the object name involved, if any
	Name string
	// Kind is one of the Err* sentinels
	Kind error
	// Err is the underlying cause, may be nil
	Err error
}

func (e *Error) Error() string {
	msg := e.Backend + " " + e.Op
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(backend, op, name string, kind, err error) error {
	return &Error{Backend: backend, Op: op, Name: name, Kind: kind, Err: err}
}

func configError(backend, format string, args ...interface{}) error {
	return newError(backend, "configure", "", ErrConfiguration, fmt.Errorf(format, args...))
}

// KindOf returns the Err* sentinel carried by err, or nil if err is nil or
// did not come from a Storage.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short snake_case label for the kind of err, suitable
// for metric labels. A nil error is "ok".
func KindName(err error) string {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "unknown"
	case ErrConfiguration:
		return "configuration"
	case ErrUnreachable:
		return "unreachable"
	case ErrDenied:
		return "denied"
	case ErrNotFound:
		return "not_found"
	case ErrIO:
		return "io"
	case ErrInvalidName:
		return "invalid_name"
	case ErrClosed:
		return "closed"
	}
	return "unknown"
}
