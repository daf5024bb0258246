// Package serviceerr holds the error taxonomy shared by the session packages.
package serviceerr

import (
	"errors"
	"net/http"
)

// Code is a stable, machine readable error identifier.
type Code string

const (
	CodeUnknown            Code = "unknown"
	CodeInvalidRequest     Code = "invalid_request"
	CodeNotFound           Code = "not_found"
	CodeUnavailable        Code = "storage_unavailable"
	CodeUnresolvableTenant Code = "unresolvable_tenant"
	CodeInvalidConfig      Code = "invalid_config"
	CodeLoginRejected      Code = "login_rejected"
	CodeExchangeFailed     Code = "exchange_failed"
	CodeRefreshFailed      Code = "refresh_failed"
	CodeUnauthenticated    Code = "unauthenticated"
)

// Error is a coded error. Two errors are equal under errors.Is when their codes match.
type Error struct {
	Err         Code
	Description string
}

var (
	ErrUnknown        = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrInvalidRequest = &Error{Err: CodeInvalidRequest}
	ErrNotFound       = &Error{Err: CodeNotFound, Description: "not found"}
	// ErrUnavailable means the session store could not be read or written.
	// It is never returned for a record that simply does not exist.
	ErrUnavailable = &Error{Err: CodeUnavailable, Description: "session storage unavailable"}
	// ErrUnresolvableTenant is a configuration error: no tenant matches and no default is set.
	ErrUnresolvableTenant = &Error{Err: CodeUnresolvableTenant, Description: "no tenant configuration matches the context"}
	ErrInvalidConfig      = &Error{Err: CodeInvalidConfig, Description: "invalid configuration"}
	// ErrLoginRejected deliberately carries no detail about what did not match.
	ErrLoginRejected   = &Error{Err: CodeLoginRejected, Description: "login attempt rejected"}
	ErrExchangeFailed  = &Error{Err: CodeExchangeFailed, Description: "authorization code exchange failed"}
	ErrRefreshFailed   = &Error{Err: CodeRefreshFailed, Description: "token refresh failed"}
	ErrUnauthenticated = &Error{Err: CodeUnauthenticated, Description: "no valid session"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Err == e.Err
}

// HTTPStatus maps the error code onto the status the gate server answers with.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeLoginRejected, CodeExchangeFailed:
		return http.StatusBadRequest
	case CodeUnauthenticated, CodeRefreshFailed:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatusFor returns the status of the first coded error in err's chain.
func HTTPStatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}

	return http.StatusInternalServerError
}
