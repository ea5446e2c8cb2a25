// Package apierror provides the typed outcomes returned by the service layer
// and the response envelopes written to clients. Handlers translate an
// *Error into its HTTP status; anything else is treated as an internal
// failure and never shown verbatim.
package apierror

import (
	"errors"
	"net/http"
)

// Kind classifies an expected, non-fatal outcome.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
)

// HTTPStatus maps a kind to the status code used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindConflict, KindInvalidState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain outcome. Payload carries context the caller can act on,
// e.g. the session that blocks an open or the closure a double close hit.
type Error struct {
	Kind    Kind
	Message string
	Payload any
}

func (e *Error) Error() string { return e.Message }

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

func Conflict(msg string, payload any) *Error {
	return &Error{Kind: KindConflict, Message: msg, Payload: payload}
}

func InvalidState(msg string, payload any) *Error {
	return &Error{Kind: KindInvalidState, Message: msg, Payload: payload}
}

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
	Code   Kind   `json:"code,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// FromError builds the envelope for a domain outcome.
func FromError(e *Error) *APIError {
	return &APIError{Detail: e.Message, Code: e.Kind, Data: e.Payload}
}

// FieldsError wraps per-field request validation failures.
type FieldsError struct {
	Detail string            `json:"detail"`
	Code   Kind              `json:"code"`
	Fields map[string]string `json:"fields"`
}

func NewFields(fields map[string]string) *FieldsError {
	return &FieldsError{Detail: "validation failed", Code: KindValidation, Fields: fields}
}
