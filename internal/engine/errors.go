package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tap/internal/wire"
)

// Error is a command or query failure carrying a protocol error code.
//
// Input and domain errors are returned synchronously and never produce
// an event; no partial state change is visible. Store failures surface
// as CodeInternal after bounded retry, also leaving state untouched.
type Error struct {
	// Code is the protocol error code (closed set).
	Code wire.ErrorCode

	// Message is a human-readable description.
	Message string

	// Fields contains additional context (resource, holdId, ...).
	Fields map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the protocol code from err, or CodeInternal when err
// is not an engine error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) wire.ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return wire.CodeInternal
}

// IsCode reports whether err carries the given protocol code.
func IsCode(err error, code wire.ErrorCode) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

func badRequest(format string, args ...any) *Error {
	return &Error{Code: wire.CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return &Error{Code: wire.CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) *Error {
	return &Error{Code: wire.CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func capacityViolation(resource, detail string) *Error {
	return &Error{
		Code:    wire.CodeCapacityViolation,
		Message: fmt.Sprintf("capacity violation on %s: %s", resource, detail),
		Fields:  map[string]string{"resource": resource},
	}
}

func expiredHold(holdID string) *Error {
	return &Error{
		Code:    wire.CodeExpiredHold,
		Message: fmt.Sprintf("hold %s has expired", holdID),
		Fields:  map[string]string{"holdId": holdID},
	}
}

func internal(err error) *Error {
	return &Error{Code: wire.CodeInternal, Message: err.Error()}
}
