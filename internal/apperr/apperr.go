package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means the caller has no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalid means the request failed validation before any side effect.
	ErrInvalid = errors.New("invalid request")
	// ErrForbidden means the caller is not a participant of the chat it acts on.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	// ErrTransientStore marks a failed poll fetch. It is logged and retried, never surfaced.
	ErrTransientStore = errors.New("transient store error")
	// ErrTransport marks a dropped stream on the client side.
	ErrTransport = errors.New("transport error")
)

// Invalid wraps ErrInvalid with a human readable reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with a human readable reason.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Status maps an error to the HTTP status the handler layer answers with.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
