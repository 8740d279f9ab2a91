// Package errs carries the typed error every service returns. The codes are
// the machine-readable error kinds of the public surface; HTTP mapping lives
// in the endpoints layer.
package errs

import "errors"

type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeUnauthorized      Code = "unauthorized"
	CodeForbidden         Code = "forbidden"
	CodeNotFound          Code = "not_found"
	CodeInvalidTransition Code = "invalid_transition"
	CodeAlreadyQueued     Code = "already_queued"
	CodeAlreadyClaimed    Code = "already_claimed"
	CodeConflict          Code = "conflict"
	CodeStoreUnavailable  Code = "store_unavailable"
	CodeInternal          Code = "internal_error"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the code from an error chain, defaulting to internal_error
// for anything untyped.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
