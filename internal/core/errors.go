package core

import "errors"

var (
	// Admission errors, returned synchronously on submission.
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrConcurrencyExceeded = errors.New("too many concurrent jobs")
	ErrQueueFull           = errors.New("job queue is full")

	// Lookup and cancellation errors.
	ErrJobNotFound  = errors.New("job not found")
	ErrNotOwner     = errors.New("job belongs to another caller")
	ErrJobNotQueued = errors.New("job is not queued")
	ErrNoProcessor  = errors.New("no processor registered")

	// ErrInvalidTransition is a programmer error: an attempted status
	// change that the state machine does not permit. It is never mapped
	// to a caller-facing response.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// DenialError carries the retry hint for rate-limit and concurrency
// denials so handlers can surface retryAfterSeconds.
type DenialError struct {
	Err        error
	RetryAfter int
}

func (e *DenialError) Error() string {
	return e.Err.Error()
}

func (e *DenialError) Unwrap() error {
	return e.Err
}
