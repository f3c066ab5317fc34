package spec

import (
	"fmt"
	"strings"
)

// ErrorCode categorizes generator failures. It implements error so callers can
// match a category directly: errors.Is(err, spec.DanglingReference).
type ErrorCode string

const (
	MalformedInput        ErrorCode = "MalformedInput"
	UnsupportedVersion    ErrorCode = "UnsupportedVersion"
	DanglingReference     ErrorCode = "DanglingReference"
	IncompatibleMerge     ErrorCode = "IncompatibleMerge"
	InvalidCombinator     ErrorCode = "InvalidCombinator"
	PathParameterMismatch ErrorCode = "PathParameterMismatch"
	DuplicateField        ErrorCode = "DuplicateField"
	ToolNameTooLong       ErrorCode = "ToolNameTooLong"
	UnsupportedTarget     ErrorCode = "UnsupportedTarget"

	// Reading the document from disk or network.
	InputError   ErrorCode = "InputError"
	NetworkError ErrorCode = "NetworkError"
)

func (c ErrorCode) Error() string { return string(c) }

// Error is a structured failure pointing back at the offending fragment of
// the document.
type Error struct {
	Code      ErrorCode
	Message   string
	Operation string // e.g. "GET /items/{id}"
	Pointer   string // e.g. "#/paths/~1items~1{id}/get"
	Cause     error
}

// Errorf builds an Error. Use At and For to attach location context.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// At sets the JSON pointer of the offending fragment.
func (e *Error) At(pointer string) *Error {
	e.Pointer = pointer
	return e
}

// For sets the offending operation, e.g. "GET /pets".
func (e *Error) For(operation string) *Error {
	e.Operation = operation
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Operation != "" {
		b.WriteString(" (operation ")
		b.WriteString(e.Operation)
		b.WriteString(")")
	}
	if e.Pointer != "" {
		b.WriteString(" at ")
		b.WriteString(e.Pointer)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is this error's code.
func (e *Error) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

// withOperation annotates err with the operation key unless it already has one.
func withOperation(err error, key string) error {
	if se, ok := err.(*Error); ok && se.Operation == "" {
		se.Operation = key
	}
	return err
}
