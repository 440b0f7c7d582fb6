// Package apierr defines the error-kind taxonomy shared by the
// catalog, policy, auth, and HTTP layers, and the mapping from kind
// to HTTP status code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of a failure, independent of the
// underlying cause. The HTTP layer consults only the Kind to choose a
// status code.
type Kind int

const (
	// KindInternal covers anything not otherwise classified; maps to 500.
	KindInternal Kind = iota
	KindAuthRequired
	KindForbidden
	KindNotFound
	KindConflict
	KindUnprocessableContent
	KindUnsupportedMediaType
	KindWouldDeleteData
	KindDatabaseUpgradeNeeded
	KindUninitializedDatabase
	KindUnsupportedQueryType
	KindConfigError
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnprocessableContent:
		return "unprocessable_content"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindWouldDeleteData:
		return "would_delete_data"
	case KindDatabaseUpgradeNeeded:
		return "database_upgrade_needed"
	case KindUninitializedDatabase:
		return "uninitialized_database"
	case KindUnsupportedQueryType:
		return "unsupported_query_type"
	case KindConfigError:
		return "config_error"
	default:
		return "internal"
	}
}

// Error wraps an underlying cause with a Kind and an optional
// client-facing message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal if
// err does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps err's Kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindWouldDeleteData:
		return http.StatusConflict
	case KindUnprocessableContent:
		return http.StatusUnprocessableEntity
	case KindUnsupportedMediaType:
		return http.StatusNotAcceptable
	case KindUnsupportedQueryType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Convenience constructors for the common cases.

func AuthRequired(msg string) *Error         { return New(KindAuthRequired, msg) }
func Forbidden(msg string) *Error            { return New(KindForbidden, msg) }
func NotFound(msg string) *Error             { return New(KindNotFound, msg) }
func Conflict(msg string) *Error             { return New(KindConflict, msg) }
func Unprocessable(msg string) *Error        { return New(KindUnprocessableContent, msg) }
func UnsupportedMediaType(msg string) *Error { return New(KindUnsupportedMediaType, msg) }
func WouldDeleteData(msg string) *Error      { return New(KindWouldDeleteData, msg) }
func UnsupportedQueryType(msg string) *Error { return New(KindUnsupportedQueryType, msg) }
func ConfigError(msg string) *Error          { return New(KindConfigError, msg) }
