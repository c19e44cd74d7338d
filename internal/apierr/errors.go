// Package apierr implements the error-kind taxonomy as typed errors,
// together with their HTTP-status mapping and an RFC 7807
// application/problem+json renderer. Follows a NotFoundError +
// errors.As-constructor pattern.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the error-kind taxonomy.
type Kind string

const (
	KindInvalidPayload    Kind = "InvalidPayload"
	KindConflict          Kind = "Conflict"
	KindLimitExceeded     Kind = "LimitExceeded"
	KindTemplateError     Kind = "TemplateError"
	KindHookError         Kind = "HookError"
	KindBackendTransient  Kind = "BackendTransient"
	KindBackendPermanent  Kind = "BackendPermanent"
	KindBootstrapError    Kind = "BootstrapError"
	KindTaskQueueError    Kind = "TaskQueueError"
	KindNotSupported      Kind = "NotSupported"
	KindNotFound          Kind = "NotFound"
)

// Error is the common shape for all core errors: a Kind, a human-readable
// detail, and the wrapped cause (if any).
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindBackendPermanent for
// unrecognized errors (the conservative "surface immediately" policy).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackendPermanent
}

// Retryable reports whether the error's kind is subject to the
// BackendTransient/TaskQueueError retry policy.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindBackendTransient, KindTaskQueueError:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to its corresponding HTTP status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidPayload:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case KindTemplateError, KindHookError:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNotSupported:
		return http.StatusNotImplemented
	case KindBackendTransient, KindBackendPermanent, KindBootstrapError, KindTaskQueueError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrNotSupported is returned by backend operations that have no
// implementation on the active backend (e.g. Docker backup/restore).
var ErrNotSupported = New(KindNotSupported, "operation not supported on this backend")

// Problem is an RFC 7807 application/problem+json body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// ProblemFor builds a Problem document from err, defaulting Type to a
// stable "about:blank"-style URN per error kind so clients can dispatch on
// it without string-matching Detail.
func ProblemFor(err error) Problem {
	kind := KindOf(err)
	status := HTTPStatus(kind)
	detail := err.Error()

	return Problem{
		Type:   "urn:prevant:error:" + string(kind),
		Title:  string(kind),
		Status: status,
		Detail: detail,
	}
}

// WriteJSON writes the problem document as application/problem+json.
func (p Problem) WriteJSON(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	return json.NewEncoder(w).Encode(p)
}
