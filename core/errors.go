package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure. Every error surfaced to a client maps
// to exactly one Kind, and status-code knowledge lives in one place
// (HTTPStatus) rather than being scattered across components.
type Kind int

const (
	// KindUnauthenticated: missing, malformed, or expired credential.
	KindUnauthenticated Kind = iota + 1
	// KindForbidden: valid credential, insufficient role or entitlement.
	KindForbidden
	// KindNotFound: unroutable path or unknown content reference.
	KindNotFound
	// KindUnavailable: downstream unreachable or timed out.
	KindUnavailable
	// KindInternal: anything unclassified. Never exposes detail.
	KindInternal
)

// Error is the tagged error type shared by all gateway components.
// Detail is the client-safe message; Err (optional) carries the internal
// cause for logs and is never rendered to clients.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on Kind, so sentinel-style checks like
// errors.Is(err, core.Unauthenticated("")) work regardless of detail text.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func Unauthenticated(detail string) *Error {
	if detail == "" {
		detail = "authentication required"
	}
	return &Error{Kind: KindUnauthenticated, Detail: detail}
}

func Forbidden(detail string) *Error {
	if detail == "" {
		detail = "access denied"
	}
	return &Error{Kind: KindForbidden, Detail: detail}
}

func NotFound(detail string) *Error {
	if detail == "" {
		detail = "not found"
	}
	return &Error{Kind: KindNotFound, Detail: detail}
}

func Unavailable(detail string, cause error) *Error {
	if detail == "" {
		detail = "service unavailable"
	}
	return &Error{Kind: KindUnavailable, Detail: detail, Err: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Detail: "internal server error", Err: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ClientDetail returns the message safe to place in the response body.
// Unclassified errors always render a generic message so internal
// diagnostics (driver errors, hostnames) never leak.
func ClientDetail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Detail
	}
	return "internal server error"
}
