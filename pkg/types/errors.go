// Package types defines error types for the sandboxed SFTP service.
package types

import (
	"errors"
	"fmt"
)

// StatusCode is an SFTP status code as carried in SSH_FXP_STATUS.
type StatusCode uint32

const (
	StatusOK               StatusCode = 0
	StatusEOF              StatusCode = 1
	StatusNoSuchFile       StatusCode = 2
	StatusPermissionDenied StatusCode = 3
	StatusFailure          StatusCode = 4
	StatusBadMessage       StatusCode = 5
	StatusNoConnection     StatusCode = 6
	StatusConnectionLost   StatusCode = 7
	StatusOpUnsupported    StatusCode = 8
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusEOF:
		return "eof"
	case StatusNoSuchFile:
		return "no such file"
	case StatusPermissionDenied:
		return "permission denied"
	case StatusFailure:
		return "failure"
	case StatusBadMessage:
		return "bad message"
	case StatusNoConnection:
		return "no connection"
	case StatusConnectionLost:
		return "connection lost"
	case StatusOpUnsupported:
		return "operation unsupported"
	default:
		return fmt.Sprintf("status(%d)", uint32(c))
	}
}

// Common errors
var (
	ErrEOF              = errors.New("end of file")
	ErrNoSuchFile       = errors.New("no such file")
	ErrPermissionDenied = errors.New("permission denied")
	ErrFailure          = errors.New("failure")
	ErrBadHandle        = errors.New("invalid handle")
	ErrDuplicateInit    = errors.New("duplicate init")
	ErrOpUnsupported    = errors.New("operation unsupported")
	ErrInvalidPattern   = errors.New("invalid access pattern")
	ErrInvalidRoot      = errors.New("invalid root directory")
	ErrNotRunning       = errors.New("server is not running")
)

// sentinelFor returns the sentinel error matching a status code.
func sentinelFor(code StatusCode) error {
	switch code {
	case StatusEOF:
		return ErrEOF
	case StatusNoSuchFile:
		return ErrNoSuchFile
	case StatusPermissionDenied:
		return ErrPermissionDenied
	case StatusBadMessage:
		return ErrBadHandle
	case StatusConnectionLost:
		return ErrDuplicateInit
	case StatusOpUnsupported:
		return ErrOpUnsupported
	default:
		return ErrFailure
	}
}

// StatusError is the error returned by every session operation. It carries
// the protocol status code and, when there is one, the underlying OS error.
type StatusError struct {
	Op     string
	Path   string
	Handle string
	Code   StatusCode
	Err    error
}

// NewStatusError creates a StatusError for op.
func NewStatusError(op string, code StatusCode, err error) *StatusError {
	return &StatusError{Op: op, Code: code, Err: err}
}

func (e *StatusError) Error() string {
	target := e.Path
	if target == "" {
		target = e.Handle
	}
	msg := e.Op
	if target != "" {
		msg += " " + target
	}
	msg += ": " + e.Code.String()
	if e.Err != nil && !errors.Is(e.Err, sentinelFor(e.Code)) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the status code, so callers can write
// errors.Is(err, types.ErrNoSuchFile).
func (e *StatusError) Is(target error) bool {
	return target == sentinelFor(e.Code)
}

// WithPath sets the virtual path the error refers to.
func (e *StatusError) WithPath(path string) *StatusError {
	e.Path = path
	return e
}

// WithHandle sets the handle the error refers to.
func (e *StatusError) WithHandle(handle string) *StatusError {
	e.Handle = handle
	return e
}

// CodeOf returns the status code carried by err. Errors that are not a
// StatusError report StatusFailure; nil reports StatusOK.
func CodeOf(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusFailure
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}
