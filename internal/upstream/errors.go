package upstream

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable marks a request that exhausted its retry budget.
// Callers treat it as a page-level transient failure.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ValidationError rejects a request before any network I/O: disallowed
// path prefix, disallowed method, or malformed parameters.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("upstream request validation: %s %q: %s", e.Field, e.Value, e.Reason)
}

// UpstreamError carries a non-2xx response status. Only 5xx statuses are
// retried; a 4xx is returned to the caller immediately.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether the response status is worth retrying.
func (e *UpstreamError) Retryable() bool {
	return e.Status >= 500
}
