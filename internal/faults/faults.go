// Package faults defines the error taxonomy shared by every provider
// client and cascade. Leaf clients return these typed errors; cascade
// layers convert them into try-next-fallback control flow.
package faults

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNoCredentials marks a stage whose provider credential is absent from
// configuration. Fatal for that stage, never retried.
var ErrNoCredentials = eris.New("provider credentials not configured")

// ErrNotFound marks a legitimately-empty upstream answer ("provider said
// no"). It must never be conflated with a provider failure; callers branch
// differently on the two.
var ErrNotFound = eris.New("not found")

// ThrottledError reports that a provider's throttle signal persisted
// through every queued retry.
type ThrottledError struct {
	Provider string
	Attempts int
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: throttled after %d attempts", e.Provider, e.Attempts)
}

// TimeoutError reports an exceeded per-call timeout budget. Distinct from
// a throttle signal and never retried by the client core.
type TimeoutError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out", e.Provider, e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UpstreamError is a valid response envelope carrying an error status.
type UpstreamError struct {
	Provider string
	Code     string
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream error %s: %s", e.Provider, e.Code, e.Message)
}

// MalformedError is a non-JSON, truncated, or shape-missing response body.
type MalformedError struct {
	Provider string
	Err      error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Provider, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsThrottled reports whether err is a throttle-exhausted failure.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

// IsTimeout reports whether err is a per-call timeout, either our typed
// wrapper or a bare context deadline.
func IsTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether err is the expected-negative outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNoCredentials reports whether err is a missing-credential condition.
func IsNoCredentials(err error) bool {
	return errors.Is(err, ErrNoCredentials)
}
