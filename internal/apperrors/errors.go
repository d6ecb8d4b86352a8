// internal/apperrors/errors.go
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so handlers and callers can react without
// parsing messages.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindState             Kind = "state"
	KindAuthorization     Kind = "authorization"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindCollaborator      Kind = "collaborator"
	KindNotFound          Kind = "not_found"
)

// Error is the error type returned by the marketplace services.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels (Kind set, Code empty) and code sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return t.Kind != "" && e.Kind == t.Kind
}

// Kind sentinels, usable with errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrState             = &Error{Kind: KindState, Message: "operation not allowed in current state"}
	ErrAuthorization     = &Error{Kind: KindAuthorization, Message: "caller is not authorized"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrCollaborator      = &Error{Kind: KindCollaborator, Message: "collaborator call failed"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
)

// Code sentinels for failures callers commonly branch on.
var (
	ErrRateTooLow        = &Error{Kind: KindValidation, Code: "RATE_TOO_LOW", Message: "rate per second rounds down to zero"}
	ErrInvalidMilestone  = &Error{Kind: KindValidation, Code: "INVALID_MILESTONE", Message: "milestones must be strictly increasing and within the net deposit"}
	ErrFeeTooHigh        = &Error{Kind: KindValidation, Code: "FEE_TOO_HIGH", Message: "fees leave nothing for the recipient"}
	ErrNothingToWithdraw = &Error{Kind: KindInsufficientFunds, Code: "NOTHING_TO_WITHDRAW", Message: "nothing to withdraw"}
	ErrReentrant         = &Error{Kind: KindState, Code: "REENTRANT_CALL", Message: "entity is busy with an operation in this call chain"}
)

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return newError(KindValidation, "", format, args...)
}

func State(format string, args ...interface{}) error {
	return newError(KindState, "", format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newError(KindAuthorization, "", format, args...)
}

func InsufficientFunds(format string, args ...interface{}) error {
	return newError(KindInsufficientFunds, "", format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newError(KindNotFound, "", format, args...)
}

// Collaborator wraps a failed registry/oracle/gateway call.
func Collaborator(err error, format string, args ...interface{}) error {
	e := newError(KindCollaborator, "", format, args...)
	e.Err = err
	return e
}

// WithCode returns a copy of a code sentinel carrying extra detail.
func WithCode(sentinel *Error, format string, args ...interface{}) error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf("%s: %s", sentinel.Message, fmt.Sprintf(format, args...)),
	}
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf reports the code of err, or "" when it carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
