// Package apperr defines the error taxonomy shared by every domain service.
// Services return *Error values; HTTP handlers translate them with ToHTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an error independently of the transport.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindNotFound         Kind = "NOT_FOUND"
	KindConflict         Kind = "CONFLICT"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindUnauthenticated  Kind = "NOT_AUTHENTICATED"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindExpired          Kind = "EXPIRED"
	KindExternal         Kind = "EXTERNAL_PROVIDER_ERROR"
	KindInternal         Kind = "INTERNAL"
)

// Error is a classified domain error carrying a client-facing message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error

	// RetryAfter is set for KindRateLimited, in seconds.
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values by kind and code so that package level
// sentinels can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, string(KindValidation), message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, string(KindNotFound), message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func PermissionDenied(code, message string) *Error {
	return New(KindPermissionDenied, code, message)
}

func Unauthenticated(code, message string) *Error {
	return New(KindUnauthenticated, code, message)
}

func RateLimited(message string, retryAfter int) *Error {
	e := New(KindRateLimited, string(KindRateLimited), message)
	e.RetryAfter = retryAfter
	return e
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or the empty string for unclassified errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps a kind onto an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindExpired:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape of every error response.
type Body struct {
	Code   string `json:"code"`
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

// ToHTTP converts a service error into an echo.HTTPError. Unclassified errors
// become 500s with a generic message; the cause stays attached for logging.
func ToHTTP(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, Body{
			Code:   string(KindInternal),
			Kind:   KindInternal,
			Detail: "internal server error",
		}).SetInternal(err)
	}
	return echo.NewHTTPError(HTTPStatus(e.Kind), Body{
		Code:   e.Code,
		Kind:   e.Kind,
		Detail: e.Message,
	}).SetInternal(err)
}
