// Package domainerrors carries coded errors across service boundaries.
//
// Services return *Error values so transports can translate them without
// inspecting messages. Infrastructure facts (not found, unavailable) come
// from pkg/platform/sentinel and are wrapped here with a domain code.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeNotFound     Code = "not_found"
	CodeInvalidState Code = "invalid_state"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal_error"

	// Flow layer taxonomy.
	CodeAccountNotFound    Code = "account_not_found"
	CodeEnrollmentRejected Code = "enrollment_rejected"
	CodeVerificationFailed Code = "verification_failed"
	CodeFallbackMismatch   Code = "fallback_mismatch"
	CodeNetwork            Code = "network_error"
	CodeDeviceUnavailable  Code = "device_unavailable"
)

// Error is a domain error with a stable code and a user-facing message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error without an underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a domain code to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain is a domain error with code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Message returns the user-facing message of the outermost domain error.
// Errors without a domain code produce a generic message.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "an unexpected error occurred"
}

// HTTPStatus maps a code to a response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound, CodeAccountNotFound:
		return http.StatusNotFound
	case CodeInvalidState:
		return http.StatusConflict
	case CodeUnauthorized, CodeVerificationFailed, CodeFallbackMismatch:
		return http.StatusUnauthorized
	case CodeEnrollmentRejected:
		return http.StatusUnprocessableEntity
	case CodeNetwork:
		return http.StatusBadGateway
	case CodeDeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
