package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrForbidden is returned when the remote rejects a credential outright
	ErrForbidden = errors.New("forbidden")
	// ErrShutdown is returned when a blocking step was interrupted by a stop request
	ErrShutdown = errors.New("shutdown requested")
)

// RateLimitError reports explicit quota exhaustion by the remote
type RateLimitError struct {
	Reset time.Time
	Err   error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s: %v", e.Reset.UTC().Format(time.RFC3339), e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError marks connectivity or service faults that may heal on their own
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}
