package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no entry matches a job id, request id, or
	// query, including entries that are logically expired but not yet swept.
	ErrNotFound = errors.New("search entry not found")

	// ErrConflict is returned by a store when an insert would create a second
	// in-flight entry for the same normalized query. Callers recover by
	// returning the existing entry instead of failing the admission.
	ErrConflict = errors.New("in-flight entry already exists for query")

	// ErrEmptyQuery is returned when a query normalizes to the empty string.
	ErrEmptyQuery = errors.New("query is empty")
)

// UpstreamError wraps a failure talking to the external scraping provider,
// either at job submission or at dataset fetch time.
type UpstreamError struct {
	Op         string // "submit" or "fetch"
	StatusCode int    // HTTP status from the provider, 0 if none
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewSubmitError wraps a job submission failure.
func NewSubmitError(statusCode int, err error) error {
	return &UpstreamError{Op: "submit", StatusCode: statusCode, Err: err}
}

// NewFetchError wraps a dataset fetch failure.
func NewFetchError(statusCode int, err error) error {
	return &UpstreamError{Op: "fetch", StatusCode: statusCode, Err: err}
}
