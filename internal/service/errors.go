package service

import (
	"errors"
	"fmt"
	"syscall"
)

// Class is the retry classification of an attempt failure.
type Class int

const (
	NonRetryable Class = iota
	Retryable
)

// Classify reports whether err means the upstream actively refused the
// connection. That is the only retryable condition; timeouts, resets, DNS
// failures and protocol errors are not.
func Classify(err error) Class {
	if err != nil && errors.Is(err, syscall.ECONNREFUSED) {
		return Retryable
	}
	return NonRetryable
}

// RetryableConnectionError records an attempt the upstream refused.
type RetryableConnectionError struct {
	Attempt int
	Err     error
}

func (e *RetryableConnectionError) Error() string {
	return fmt.Sprintf("attempt %d: upstream refused connection: %v", e.Attempt, e.Err)
}

func (e *RetryableConnectionError) Unwrap() error { return e.Err }

// NonRetryableError records an attempt that failed for any other reason.
type NonRetryableError struct {
	Attempt int
	Err     error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// classifyAttempt wraps err in the error type matching its class.
func classifyAttempt(n int, err error) error {
	if Classify(err) == Retryable {
		return &RetryableConnectionError{Attempt: n, Err: err}
	}
	return &NonRetryableError{Attempt: n, Err: err}
}
