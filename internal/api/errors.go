package api

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperation is returned when the configured protocol has no endpoint for an
// operation.
var ErrUnsupportedOperation = errors.New("operation not supported by protocol")

// APIError is an application-level rejection carried in a successful HTTP response.
// It is never retried.
type APIError struct {
	Operation Operation
	Code      int
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (code: %d)", e.Operation, e.Message, e.Code)
}

// HTTPStatusError is a non-2xx HTTP response.
type HTTPStatusError struct {
	Operation  Operation
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Operation, e.StatusCode)
}
