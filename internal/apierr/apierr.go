// Package apierr defines the typed error family used across HiveBoard's
// server components and the HTTP envelope they are rendered into.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind is a coarse error category shared by storage, auth, and the HTTP layer.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_failed"
	KindAuthorization  Kind = "insufficient_permissions"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRateLimited    Kind = "rate_limited"
	KindInternal       Kind = "internal_error"
)

// Error is the typed error carried through the system. Code overrides the
// default machine-readable string for Kind when a more specific code is
// useful to callers (e.g. "invalid_project_id" under KindValidation).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.code(), e.Message)
}

func (e *Error) code() string {
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// HTTPStatus maps the error kind to the status code required by §7.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New builds an Error with the default code for its kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCode sets a specific machine-readable code, e.g. "invalid_project_id".
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetails attaches structured detail fields to the error envelope.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// envelope is the wire format specified in §6.9.
type envelope struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON renders err as the standard error envelope. Non-*Error values
// are rendered as an internal error without leaking their text.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = New(KindInternal, "internal error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	json.NewEncoder(w).Encode(envelope{
		Error:   apiErr.code(),
		Message: apiErr.Message,
		Status:  apiErr.HTTPStatus(),
		Details: apiErr.Details,
	})
}

// RetryAfterSeconds is attached to rate-limited responses per §4.1.
func RetryAfterSeconds(seconds int) *Error {
	return New(KindRateLimited, "rate limit exceeded").WithDetails(map[string]interface{}{
		"retry_after_seconds": seconds,
	})
}
