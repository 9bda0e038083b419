package types

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError reports a malformed key, geometry, or selection. Surfaced
// synchronously to the requester and never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// DependencyNotReadyError reports a partitioned run requested before its
// non-partitioned dependencies have ever succeeded. Fails fast, no retry.
type DependencyNotReadyError struct {
	Asset string
}

func (e *DependencyNotReadyError) Error() string {
	return fmt.Sprintf("dependency %q has never materialized", e.Asset)
}

// DataUnavailableError reports that no qualifying source data exists for a
// key (e.g. every candidate scene exceeds the cloud-cover ceiling). Terminal
// "skipped", distinct from failure, never retried.
type DataUnavailableError struct {
	Reason string
}

func (e *DataUnavailableError) Error() string { return "data unavailable: " + e.Reason }

// PublishConflictError reports a catalog write rejected after bounded
// conflict retries.
type PublishConflictError struct {
	Key      string
	Attempts int
}

func (e *PublishConflictError) Error() string {
	return fmt.Sprintf("publish conflict on %s after %d attempts", e.Key, e.Attempts)
}

// TransientError marks an infrastructure failure (network, throttling) as
// retryable. Timeouts are classified separately via context errors.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transientf wraps err as a retryable infrastructure failure.
func Transientf(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Classify maps an error to its failure category. Unrecognized errors are
// treated as transient so infrastructure blips get retried rather than
// terminally failing a partition.
func Classify(err error) FailureCategory {
	if err == nil {
		return ""
	}

	var (
		valErr  *ValidationError
		depErr  *DependencyNotReadyError
		dataErr *DataUnavailableError
		pubErr  *PublishConflictError
	)
	switch {
	case errors.As(err, &valErr):
		return FailureValidation
	case errors.As(err, &depErr):
		return FailureDependencyNotReady
	case errors.As(err, &dataErr):
		return FailureDataUnavailable
	case errors.As(err, &pubErr):
		return FailurePublishConflict
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailurePermanent
	}
	return FailureTransient
}

// IsRetryable returns whether a failure category should be retried under the
// given policy.
func IsRetryable(policy RetryPolicy, category FailureCategory) bool {
	switch category {
	case FailurePermanent, FailureValidation, FailureDataUnavailable, FailureDependencyNotReady:
		return false
	}
	if len(policy.RetryableFailures) == 0 {
		return category == FailureTransient || category == FailureTimeout || category == FailurePublishConflict
	}
	for _, fc := range policy.RetryableFailures {
		if fc == category {
			return true
		}
	}
	return false
}
