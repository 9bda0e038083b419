package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureCategory
	}{
		{"nil", nil, ""},
		{"validation", Validationf("bad date %q", "nope"), FailureValidation},
		{"dependency", &DependencyNotReadyError{Asset: "bbox"}, FailureDependencyNotReady},
		{"data unavailable", &DataUnavailableError{Reason: "all scenes cloudy"}, FailureDataUnavailable},
		{"publish conflict", &PublishConflictError{Key: "catalog/collection.json", Attempts: 8}, FailurePublishConflict},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"cancelled", context.Canceled, FailurePermanent},
		{"transient", Transientf("listing objects", errors.New("connection reset")), FailureTransient},
		{"unknown errors default to transient", errors.New("mystery"), FailureTransient},
		{"wrapped validation", fmt.Errorf("parsing fields: %w", Validationf("missing id")), FailureValidation},
		{"wrapped deadline", fmt.Errorf("searching: %w", context.DeadlineExceeded), FailureTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestTransientErrorUnwraps(t *testing.T) {
	cause := errors.New("throttled")
	err := Transientf("putting object", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "putting object: throttled", err.Error())
}

func TestIsRetryableDefaults(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}

	assert.True(t, IsRetryable(policy, FailureTransient))
	assert.True(t, IsRetryable(policy, FailureTimeout))
	assert.True(t, IsRetryable(policy, FailurePublishConflict))

	assert.False(t, IsRetryable(policy, FailurePermanent))
	assert.False(t, IsRetryable(policy, FailureValidation))
	assert.False(t, IsRetryable(policy, FailureDataUnavailable))
	assert.False(t, IsRetryable(policy, FailureDependencyNotReady))
}

func TestIsRetryableExplicitList(t *testing.T) {
	policy := RetryPolicy{RetryableFailures: []FailureCategory{FailureTimeout}}

	assert.True(t, IsRetryable(policy, FailureTimeout))
	assert.False(t, IsRetryable(policy, FailureTransient))

	// The terminal categories stay non-retryable even if listed.
	policy.RetryableFailures = []FailureCategory{FailureDataUnavailable}
	assert.False(t, IsRetryable(policy, FailureDataUnavailable))
}
