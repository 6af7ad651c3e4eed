package cmapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates the requested query is unknown to the cluster manager
	// or its details carry no statement.
	ErrNotFound = errors.New("cmapi: not found")

	// ErrUnauthorized indicates the credentials were rejected.
	ErrUnauthorized = errors.New("cmapi: unauthorized")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("cmapi: %s returned %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("cmapi: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Unwrap maps authentication and lookup failures onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
