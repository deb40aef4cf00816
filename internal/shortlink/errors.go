package shortlink

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the code never existed.
	ErrNotFound = errors.New("short link not found")

	// ErrGone indicates the code existed but is expired or deactivated.
	// Distinct from ErrNotFound so callers can tell "never existed"
	// apart from "no longer valid".
	ErrGone = errors.New("short link no longer active")

	// ErrCodeConflict indicates an insert hit the unique-code constraint.
	ErrCodeConflict = errors.New("short code already exists")

	// ErrCodeUnavailable indicates a caller-supplied custom code is taken.
	ErrCodeUnavailable = errors.New("custom code is unavailable")

	// ErrInvalidCode indicates a caller-supplied custom code violates the
	// code format.
	ErrInvalidCode = errors.New("invalid custom code")

	// ErrInvalidDestination indicates a malformed or disallowed destination URL.
	ErrInvalidDestination = errors.New("invalid destination url")

	// ErrGenerationExhausted indicates code generation ran out of attempts.
	// Safe to retry later.
	ErrGenerationExhausted = errors.New("short code generation exhausted")

	// ErrUnavailable indicates the durable store failed in an unexpected way.
	ErrUnavailable = errors.New("storage unavailable")
)

// AdmissionDeniedError indicates the rate limit was exceeded.
// RetryAfter hints how long the caller should wait before retrying.
type AdmissionDeniedError struct {
	RetryAfter time.Duration
}

func (e *AdmissionDeniedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
	}

	return "rate limit exceeded"
}
