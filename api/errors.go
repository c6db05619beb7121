// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for the relay.

package api

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the relay. Every per-message failure wraps one of
// these so callers can discriminate with errors.Is.
var (
	// ErrDecode marks a malformed inbound frame. The frame is dropped.
	ErrDecode = errors.New("malformed frame")

	// ErrDuplicateSender is returned when a sender id is registered twice.
	ErrDuplicateSender = errors.New("duplicate sender")

	// ErrUnknownSender is returned when a sender id has no Connection.
	ErrUnknownSender = errors.New("unknown sender")

	// ErrConnectTimeout is returned when a bounded control round trip or
	// peer verification does not complete in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrRoute is returned when a reply targets a sender with no Connection.
	ErrRoute = errors.New("no route for reply")

	// ErrWouldBlock reports that a socket could not accept data without blocking.
	ErrWouldBlock = errors.New("operation would block")

	// ErrMalformedCommand marks a control line that does not parse.
	ErrMalformedCommand = errors.New("malformed command")

	// ErrSocketClosed is returned by operations on a closed socket.
	ErrSocketClosed = errors.New("socket is closed")

	ErrInvalidArgument = errors.New("invalid argument")

	// ErrHandlerPanic is returned in place of a panic raised by a Handler.
	ErrHandlerPanic = errors.New("handler panic")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeDecode
	ErrCodeDuplicateSender
	ErrCodeUnknownSender
	ErrCodeTimeout
	ErrCodeRoute
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel kind to errors.Is.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error of the given kind.
func NewError(code ErrorCode, kind error, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Err:     kind,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf maps an error onto its ErrorCode.
func CodeOf(err error) ErrorCode {
	var e *Error
	switch {
	case err == nil:
		return ErrCodeOK
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, ErrDecode), errors.Is(err, ErrMalformedCommand):
		return ErrCodeDecode
	case errors.Is(err, ErrDuplicateSender):
		return ErrCodeDuplicateSender
	case errors.Is(err, ErrUnknownSender):
		return ErrCodeUnknownSender
	case errors.Is(err, ErrConnectTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrRoute):
		return ErrCodeRoute
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	default:
		return ErrCodeInternal
	}
}
