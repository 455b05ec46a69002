// Package bmqerr defines the small error taxonomy surfaced across the
// RPC boundary: NotFound, InvalidArgument, AlreadyExists, and Unknown
// (the catch-all for KV store I/O failures).
package bmqerr

import (
	"errors"
	"fmt"
)

// Code classifies an error for translation into an RPC status.
type Code string

const (
	NotFound        Code = "NOT_FOUND"
	InvalidArgument Code = "INVALID_ARGUMENT"
	AlreadyExists   Code = "ALREADY_EXISTS"
	Unknown         Code = "UNKNOWN"
)

// Error is a BetterMQ error carrying a Code for wire translation.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as an Unknown-class Error unless it already carries a
// code, in which case it is returned unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: Unknown, Message: err.Error()}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or Unknown if err does not
// carry a bmqerr.Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
