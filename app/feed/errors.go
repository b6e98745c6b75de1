package feed

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
)

// FetchError is a failed retrieval attempt. Transient errors are retried
// with backoff, permanent ones on the regular schedule.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch error (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Transient() bool {
	return e.Kind == ErrorKindTransient
}

func transientError(statusCode int, err error) *FetchError {
	return &FetchError{Kind: ErrorKindTransient, StatusCode: statusCode, Err: err}
}

func permanentError(statusCode int, err error) *FetchError {
	return &FetchError{Kind: ErrorKindPermanent, StatusCode: statusCode, Err: err}
}

// KindOf classifies any fetch failure. Errors that are not a FetchError
// (cancellation, deadlines, panics) count as transient.
func KindOf(err error) ErrorKind {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return ErrorKindTransient
}

// ParseError marks a single item that could not be normalized. The item is
// skipped and the rest of the document is kept.
type ParseError struct {
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}
