package queue

import (
	"errors"
	"fmt"
)

// Enqueue errors.
var (
	ErrQueueDisabled      = errors.New("notification queue is disabled")
	ErrQueueLimitExceeded = errors.New("notification queue limit exceeded")
	ErrInvalidRequest     = errors.New("invalid notification request")
	ErrNotSubscribed      = errors.New("user is not subscribed to this notification type")
)

// Repository errors.
var (
	ErrItemNotFound = errors.New("queue item not found")
)

// State errors.
var (
	ErrInvalidTransition = errors.New("queue item status does not allow this change")
)

// LimitExceededError carries the configured per-user limit.
type LimitExceededError struct {
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("notification queue limit exceeded: at most %d active notifications per user", e.Limit)
}

// Unwrap makes errors.Is(err, ErrQueueLimitExceeded) match.
func (e *LimitExceededError) Unwrap() error {
	return ErrQueueLimitExceeded
}

// RetryableError wraps a publish error and marks whether the retry pass may
// pick the item up again.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError marks err as permanent.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// isRetryable treats unknown errors as retryable.
func isRetryable(err error) bool {
	var r *RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
