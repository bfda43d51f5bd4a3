// Package apperr defines the error kinds surfaced by domain operations.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindPolicyViolation Kind = "policy_violation"
	KindAuthorization   Kind = "authorization"
	KindAuthentication  Kind = "authentication"
	KindRateLimited     Kind = "rate_limited"
	KindIntegration     Kind = "integration"
	KindPersistence     Kind = "persistence"
)

// Error is a domain error with a kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and, when set, message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

func Validation(msg string) error      { return &Error{Kind: KindValidation, Message: msg} }
func NotFound(msg string) error        { return &Error{Kind: KindNotFound, Message: msg} }
func PolicyViolation(msg string) error { return &Error{Kind: KindPolicyViolation, Message: msg} }
func Authorization(msg string) error   { return &Error{Kind: KindAuthorization, Message: msg} }
func Authentication(msg string) error  { return &Error{Kind: KindAuthentication, Message: msg} }
func RateLimited(msg string) error     { return &Error{Kind: KindRateLimited, Message: msg} }

func Integration(msg string, err error) error {
	return &Error{Kind: KindIntegration, Message: msg, Err: err}
}

func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain. Unknown errors
// are treated as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindPersistence {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPolicyViolation:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindIntegration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
