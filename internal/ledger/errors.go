package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a ledger failure. The numeric values are stable and
// appear in CLI output and HTTP error bodies.
type ErrorCode int

const (
	// CodeAlreadyInitialized: the admin identity is already set.
	CodeAlreadyInitialized ErrorCode = 1

	// CodeNotInitialized: a write arrived before initialize.
	CodeNotInitialized ErrorCode = 2

	// CodeUnauthorized: the caller is not the registered admin.
	CodeUnauthorized ErrorCode = 3

	// CodeInvalidIdentifier: an identifier is empty or longer than MaxIdentifierLength.
	CodeInvalidIdentifier ErrorCode = 4

	// CodeInvalidTimestamp: the asserted event time is beyond the clock-skew budget.
	CodeInvalidTimestamp ErrorCode = 5

	// CodeAlreadyRecorded: a record already exists for the key.
	CodeAlreadyRecorded ErrorCode = 6

	// CodeInvalidPayload: parties or fields do not match the ledger schema.
	CodeInvalidPayload ErrorCode = 7
)

var codeNames = map[ErrorCode]string{
	CodeAlreadyInitialized: "ALREADY_INITIALIZED",
	CodeNotInitialized:     "NOT_INITIALIZED",
	CodeUnauthorized:       "UNAUTHORIZED",
	CodeInvalidIdentifier:  "INVALID_IDENTIFIER",
	CodeInvalidTimestamp:   "INVALID_TIMESTAMP",
	CodeAlreadyRecorded:    "ALREADY_RECORDED",
	CodeInvalidPayload:     "INVALID_PAYLOAD",
}

// String returns the symbolic name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// ParseErrorCode maps a symbolic name (as written in scenario files) back to
// its code.
func ParseErrorCode(name string) (ErrorCode, bool) {
	for code, n := range codeNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// Error is the single error type returned for rejected ledger operations.
// All ledger errors are terminal: the operation had no effect and the caller
// must correct the request before resubmitting.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key is the record key or identity involved, when there is one.
	Key string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a ledger error with the same code, so callers
// can write errors.Is(err, ledger.ErrAlreadyRecorded).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is matching.
var (
	ErrAlreadyInitialized = &Error{Code: CodeAlreadyInitialized, Message: "ledger already initialized"}
	ErrNotInitialized     = &Error{Code: CodeNotInitialized, Message: "ledger not initialized"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "caller is not the ledger admin"}
	ErrInvalidIdentifier  = &Error{Code: CodeInvalidIdentifier, Message: "invalid identifier"}
	ErrInvalidTimestamp   = &Error{Code: CodeInvalidTimestamp, Message: "timestamp too far in the future"}
	ErrAlreadyRecorded    = &Error{Code: CodeAlreadyRecorded, Message: "record already exists"}
	ErrInvalidPayload     = &Error{Code: CodeInvalidPayload, Message: "payload does not match schema"}
)

func newError(code ErrorCode, key, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Key: key}
}

// IsCode returns true if err is (or wraps) a ledger error with code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// CodeOf extracts the ledger error code from err.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) (ErrorCode, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Code, true
	}
	return 0, false
}
