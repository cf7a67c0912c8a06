package apperror

import (
	"errors"
	"net/http"
)

// Error is the application error carried across package boundaries.
// Code is stable and safe to expose; Origin is for server-side logs only.
type Error struct {
	Code    string
	Message string
	Origin  error
}

func (e *Error) Error() string {
	if e.Origin != nil {
		return e.Message + ": " + e.Origin.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Origin
}

// Standard error codes for the application
const (
	// Authentication/Authorization errors
	CodeAuthMissing = "AUTH_MISSING"
	CodeAuthInvalid = "AUTH_INVALID"
	CodeForbidden   = "FORBIDDEN"

	// Resource errors
	CodeNotFound          = "NOT_FOUND"
	CodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	CodeConflict          = "CONFLICT"

	// Input errors
	CodeValidation  = "VALIDATION"
	CodeSelfMessage = "SELF_MESSAGE"

	CodePersistence = "PERSISTENCE"
	CodeInternal    = "INTERNAL"
)

func New(code, message string, origin error) *Error {
	return &Error{Code: code, Message: message, Origin: origin}
}

func AuthMissing() *Error {
	return New(CodeAuthMissing, "missing credentials", nil)
}

func AuthInvalid(origin error) *Error {
	return New(CodeAuthInvalid, "invalid or expired credentials", origin)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message, nil)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message, nil)
}

func RecipientNotFound() *Error {
	return New(CodeRecipientNotFound, "recipient not found", nil)
}

func Conflict(message string, origin error) *Error {
	return New(CodeConflict, message, origin)
}

func Validation(message string) *Error {
	return New(CodeValidation, message, nil)
}

func SelfMessage() *Error {
	return New(CodeSelfMessage, "cannot send a message to yourself", nil)
}

func Persistence(message string, origin error) *Error {
	return New(CodePersistence, message, origin)
}

func Internal(origin error) *Error {
	return New(CodeInternal, "internal error", origin)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

// HTTPStatus maps an error code to the status written by REST handlers.
func HTTPStatus(code string) int {
	switch code {
	case CodeAuthMissing, CodeAuthInvalid:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeRecipientNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation, CodeSelfMessage:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
