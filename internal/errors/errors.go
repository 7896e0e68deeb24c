// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingCredential is returned when a tracked repository's credential
// reference resolves to no usable access token.
var ErrMissingCredential = errors.New("no usable access token for repository")

// ErrInvalidRepoFormat is returned when a repository identifier is not in
// 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// RateLimitError means the provider refused the request because the rate
// budget is exhausted. The run is over; retry is an external decision.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "provider rate limit exceeded"
}

// ProviderError is any other failure reported by the provider API.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }
