package attendance

import (
	"errors"
	"fmt"
)

// Code classifies attendance errors for callers and transports.
type Code string

const (
	CodeLocked          Code = "LOCKED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodePersistence     Code = "PERSISTENCE"
	CodeInternal        Code = "INTERNAL"
)

// Error is the domain error type. Two errors match under errors.Is when their codes match.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

var (
	// ErrLocked is returned by every mutation entry point while a lecture is locked.
	ErrLocked = &Error{Code: CodeLocked, Message: "attendance for this lecture is locked"}
	// ErrNotFound matches any NotFound error.
	ErrNotFound = &Error{Code: CodeNotFound, Message: "not found"}
	// ErrPersistence matches any Persistence error.
	ErrPersistence = &Error{Code: CodePersistence, Message: "persistence failure"}
	// ErrInvalid matches any InvalidArgument error.
	ErrInvalid = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Invalid(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg}
}

func Persistence(msg string, cause error) *Error {
	return &Error{Code: CodePersistence, Message: msg, Cause: cause}
}

func Internal(msg string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Cause: cause}
}

// CodeOf extracts the code of err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
