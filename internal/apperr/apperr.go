// Package apperr classifies failures so transports can map them to
// response codes without inspecting message text.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a machine-readable error class.
type Kind string

const (
	KindInternal        Kind = "internal"
	KindAuth            Kind = "auth"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindNoMapping       Kind = "no_mapping"
	KindMissingIdentity Kind = "missing_identity"
	KindInvalidStatus   Kind = "invalid_status"
	KindRender          Kind = "render"
	KindNoRecipient     Kind = "no_recipient"
	KindSend            Kind = "send"
	KindQueue           Kind = "queue"
)

// Error is a classified failure. Reason is a short string safe to return
// to callers; Err is the underlying cause, if any.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindSend})
// works without comparing reasons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// New returns a classified error without a cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap returns a classified error around cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Reason returns the short reason of a classified error, or err's text
// for unclassified errors.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// HTTPStatus maps err to the response status its kind calls for.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusForbidden
	case KindValidation, KindNotFound, KindNoMapping, KindMissingIdentity,
		KindInvalidStatus, KindRender, KindNoRecipient:
		return http.StatusBadRequest
	case KindSend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
