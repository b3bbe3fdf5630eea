// Package apperr defines the error classes shared by every service in the API
// and how each class maps onto an HTTP status code.
//
// Services never build HTTP responses themselves. They wrap one of the sentinel
// errors below with context, e.g.:
//
//	return fmt.Errorf("%w: event is cancelled", apperr.ErrInvalidState)
//
// and the Fiber error handler (handlers.ErrorHandler) turns the wrapped error into the
// right status code and a {"error": "..."} JSON body.
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel errors. Compare with errors.Is, never with ==, because services wrap them.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidState           = errors.New("invalid state")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Status maps an error to the HTTP status code the client should see.
// Unknown errors are treated as internal server errors.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is one of the expected, client-caused classes.
func IsClientError(err error) bool {
	s := Status(err)
	return s >= 400 && s < 500
}
