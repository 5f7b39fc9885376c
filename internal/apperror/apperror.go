// Package apperror defines the application's error taxonomy.
//
// Every error that crosses a layer boundary wraps one of the sentinels below,
// so callers can classify it with errors.Is and read the human-readable
// message with errors.As:
//
//	var appErr *apperror.AppError
//	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrConflict) { ... }
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrProvider     = errors.New("identity provider error")
)

// Reason narrows down an ErrUnauthorized failure. The access gate uses it to
// pick the query flag it appends to a login redirect.
type Reason string

const (
	ReasonNoToken          Reason = "no_token"
	ReasonInvalidToken     Reason = "invalid_token"
	ReasonUserNotFound     Reason = "user_not_found"
	ReasonEmailNotVerified Reason = "email_not_verified"
	ReasonInvalidCreds     Reason = "invalid_credentials"
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Reason  Reason // Optional: sub-kind for unauthorized errors
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError for a missing or unusable credential.
func Unauthorized(reason Reason, message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
		Reason:  reason,
	}
}

// Provider wraps a failure reported by the identity provider. The message is
// the provider's own and is shown to the client verbatim.
func Provider(message string) *AppError {
	return &AppError{
		Err:     ErrProvider,
		Message: message,
	}
}

// ReasonOf returns the Reason carried by err, or "" when err is not an
// unauthorized AppError.
func ReasonOf(err error) Reason {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}
