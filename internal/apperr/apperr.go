// Package apperr defines the error taxonomy shared by the auth, issue and
// routing layers, and the helpers boundaries use to turn errors into
// user-visible notifications.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for display and for routing decisions.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuth           Kind = "auth"
	KindSubmit         Kind = "submit"
	KindRequest        Kind = "request"
	KindNetwork        Kind = "network"
	KindSessionExpired Kind = "session_expired"
	KindInternal       Kind = "internal"
)

// ValidationError is a local, pre-network failure fixable by editing input.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// NewValidation returns a ValidationError for the given missing fields.
func NewValidation(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// AuthError is a server rejection of a login or registration.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// SubmitError is a server rejection of an issue write.
type SubmitError struct {
	Status  int
	Message string
}

func (e *SubmitError) Error() string { return e.Message }

// RequestError is a non-2xx answer to a read such as a list or detail fetch.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// NotFound reports a 404.
func (e *RequestError) NotFound() bool { return e.Status == http.StatusNotFound }

// NetworkError means no HTTP response was obtained.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SessionExpiredError is a 401/403 on an authenticated call. Boundaries must
// force a logout when they see it.
type SessionExpiredError struct {
	Status int
}

func (e *SessionExpiredError) Error() string {
	if e.Status == 0 {
		return "not signed in"
	}
	return fmt.Sprintf("session expired (HTTP %d)", e.Status)
}

// IsSessionExpiredStatus reports whether an HTTP status ends the session.
func IsSessionExpiredStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// KindOf returns the taxonomy kind of err, KindInternal for anything else.
func KindOf(err error) Kind {
	var (
		ve *ValidationError
		ae *AuthError
		se *SubmitError
		re *RequestError
		ne *NetworkError
		xe *SessionExpiredError
	)
	switch {
	case errors.As(err, &xe):
		return KindSessionExpired
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ae):
		return KindAuth
	case errors.As(err, &se):
		return KindSubmit
	case errors.As(err, &re):
		return KindRequest
	case errors.As(err, &ne):
		return KindNetwork
	default:
		return KindInternal
	}
}

// UserMessage renders err as a transient notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindNetwork:
		return "Could not reach the server, check your connection and try again."
	case KindSessionExpired:
		return "Your session has expired, please sign in again."
	default:
		return err.Error()
	}
}
