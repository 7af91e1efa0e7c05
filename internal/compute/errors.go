package compute

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two terminal outcomes of a compute call.
var (
	// ErrUnavailable means the retry budget was exhausted on transient
	// failures; the compute service could not be reached or kept failing.
	ErrUnavailable = errors.New("compute service unavailable")

	// ErrRejected means the compute service classified the request as
	// unprocessable, or returned a response this client could not parse.
	// Retrying will not help.
	ErrRejected = errors.New("compute request rejected")
)

// Classification partitions compute failures by whether a retry can help.
type Classification int

const (
	// Transient failures are expected to potentially succeed on retry:
	// network errors, overload, 5xx responses, per-attempt timeouts.
	Transient Classification = iota

	// Permanent failures will not succeed on retry: semantic validation
	// rejections and malformed success responses.
	Permanent
)

func (c Classification) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified compute failure. It wraps ErrUnavailable or
// ErrRejected so callers can branch with errors.Is, and records the last
// HTTP status and attempt count for the persisted job error message.
type Error struct {
	Classification Classification
	Attempts       int
	StatusCode     int // 0 when the failure was not an HTTP response
	Err            error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("compute call failed (%s, %d attempts, status %d): %v",
			e.Classification, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("compute call failed (%s, %d attempts): %v",
		e.Classification, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	if e.Classification == Permanent {
		return ErrRejected
	}
	return ErrUnavailable
}

// attemptError is the per-attempt failure before the retry loop decides
// the final outcome.
type attemptError struct {
	classification Classification
	statusCode     int
	err            error
}

func (e *attemptError) Error() string {
	return e.err.Error()
}
