// Package statuscode defines the status codes surfaced to callers of the
// runtime and the typed error that carries one.
package statuscode

import "fmt"

// Code is a status surfaced to applications on an operation's terminal
// callback, per the external interface contract.
type Code string

const (
	// OK indicates the operation completed successfully.
	OK Code = "OK"
	// Invalid indicates a generic invalid condition.
	Invalid Code = "INVALID"
	// Closing indicates the operation was cut short by a close/shutdown.
	Closing Code = "CLOSING"
	// ChannelInvalid indicates the named channel does not exist or is
	// unusable.
	ChannelInvalid Code = "CHANNEL_INVALID"
	// InvalidArgument indicates the caller supplied a malformed request.
	InvalidArgument Code = "INVALID_ARGUMENT"
	// PluginError indicates a plugin rejected a synchronous request.
	PluginError Code = "PLUGIN_ERROR"
	// InternalError indicates an unexpected failure inside the runtime or
	// an asynchronous plugin failure.
	InternalError Code = "INTERNAL_ERROR"
	// Timeout indicates a deadline elapsed before completion.
	Timeout Code = "TIMEOUT"
)

// Error wraps a Code with an optional underlying cause. Every terminal
// callback the runtime invokes is described by one of these.
type Error struct {
	Code  Code
	Cause error
}

// New constructs an Error with no underlying cause.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Wrap constructs an Error that carries an underlying cause.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return string(OK)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsOK reports whether err represents a successful outcome (nil or a
// *Error carrying statuscode.OK).
func IsOK(err error) bool {
	if err == nil {
		return true
	}
	se, ok := err.(*Error)
	return ok && se.Code == OK
}
