// Package errors provides the application error type shared by services and
// handlers. An Error carries the HTTP status to surface, a stable machine
// reason code, and a human-readable message.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// UnknownReason is used when a plain error reaches the HTTP layer.
const UnknownReason = ""

// UnknownMessage is the message surfaced for errors of unknown origin.
const UnknownMessage = "internal server error"

// Reason codes shared across the sync subsystem.
const (
	ReasonNotConfigured          = "NOT_CONFIGURED"
	ReasonRequiresAuthentication = "REQUIRES_AUTHENTICATION"
	ReasonOAuthExchangeFailed    = "OAUTH_EXCHANGE_FAILED"
	ReasonOAuthRefreshFailed     = "OAUTH_REFRESH_FAILED"
	ReasonInvalidLocator         = "INVALID_LOCATOR"
	ReasonProviderListFailed     = "PROVIDER_LIST_FAILED"
	ReasonUpstreamFailed         = "UPSTREAM_FAILED"
	ReasonBadRequest             = "BAD_REQUEST"
	ReasonInvalidState           = "INVALID_STATE"
)

// Error is an application error with an associated HTTP status code.
type Error struct {
	StatusCode int               `json:"-"`
	Reason     string            `json:"reason"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// WithCause records the underlying error for logging and errors.Is/As
// chains. The cause is never serialized to clients.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithMetadata attaches key/value context to the error and returns it.
func (e *Error) WithMetadata(md map[string]string) *Error {
	e.Metadata = md
	return e
}

// New creates an Error with an explicit status code.
func New(statusCode int, reason, message string) *Error {
	return &Error{StatusCode: statusCode, Reason: reason, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(statusCode int, reason, format string, args ...any) *Error {
	return &Error{StatusCode: statusCode, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// BadRequest creates a 400 error.
func BadRequest(reason, message string) *Error {
	return New(http.StatusBadRequest, reason, message)
}

// Unauthorized creates a 401 error.
func Unauthorized(reason, message string) *Error {
	return New(http.StatusUnauthorized, reason, message)
}

// Forbidden creates a 403 error.
func Forbidden(reason, message string) *Error {
	return New(http.StatusForbidden, reason, message)
}

// NotFound creates a 404 error.
func NotFound(reason, message string) *Error {
	return New(http.StatusNotFound, reason, message)
}

// Conflict creates a 409 error.
func Conflict(reason, message string) *Error {
	return New(http.StatusConflict, reason, message)
}

// Internal creates a 500 error.
func Internal(reason, message string) *Error {
	return New(http.StatusInternalServerError, reason, message)
}

// BadGateway creates a 502 error, used for upstream provider failures.
func BadGateway(reason, message string) *Error {
	return New(http.StatusBadGateway, reason, message)
}

// FromError extracts an *Error from err. Plain errors map to a 500 with the
// unknown message so internals are not leaked to clients.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return &Error{StatusCode: http.StatusInternalServerError, Reason: UnknownReason, Message: UnknownMessage}
}

// IsReason reports whether err is an application error with the given reason.
func IsReason(err error, reason string) bool {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Reason == reason
	}
	return false
}
