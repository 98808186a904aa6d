// Package domainerrors provides coded domain errors shared by all layers.
// It is conventionally imported as dErrors.
//
// Services wrap infrastructure errors with a code and message; transports
// translate codes into HTTP statuses or CLI exit codes without inspecting
// error strings. Codes are part of the API contract, messages are not.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and caller branching.
type Code string

const (
	// Generic codes.
	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"

	// Orchestrator-specific codes.
	CodeSchema           Code = "schema_error"
	CodeSizeLimit        Code = "size_limit_exceeded"
	CodeUnknownPolicy    Code = "unknown_policy"
	CodeInvalidState     Code = "invalid_state"
	CodeLedgerWrite      Code = "ledger_write_error"
	CodeTamperDetected   Code = "tamper_detected"
	CodeTransport        Code = "transport_error"
	CodeDeliveryMismatch Code = "delivery_mismatch"
)

// Error is a coded domain error. It wraps an optional cause for errors.Is /
// errors.As traversal.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New creates a coded error with the given message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates a cause with a code and message. Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for the errors package.
func (e *Error) Unwrap() error { return e.cause }

// HasCode reports whether err or any error in its chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability:
// dErrors.Is(err, dErrors.CodeNotFound).
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal when err
// carries no domain code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
