package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmorland/gitscout/internal/models"
)

// Sentinel errors the caller branches on with errors.Is.
var (
	// ErrInvalidReference means the owner/repo reference did not resolve.
	ErrInvalidReference = errors.New("invalid repository reference")

	// ErrUnauthorized means GitHub rejected the supplied credential.
	ErrUnauthorized = errors.New("credential rejected by GitHub")

	// ErrNotFound means the repository does not exist or is inaccessible.
	ErrNotFound = errors.New("repository not found")
)

// RateLimitError reports an exhausted API budget. ResetTime tells the caller
// when the budget replenishes so a wait estimate can be shown; it is zero
// when the server did not report one.
type RateLimitError struct {
	ResetTime time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetTime.IsZero() {
		return "API rate limit exhausted"
	}
	return fmt.Sprintf("API rate limit exhausted, resets at %s", e.ResetTime.Format(time.RFC3339))
}

// TransportError wraps a network or response-decoding failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport failure: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PartialResultError reports that a later page failed after earlier pages
// succeeded. Issues holds everything fetched before the failure, in server
// order, and RateLimit is the last snapshot observed. Pagination never
// truncates silently; callers decide whether the partial set is usable.
type PartialResultError struct {
	Issues    []models.Issue
	RateLimit models.RateLimitSnapshot
	Err       error
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("page fetch failed after %d issues: %v", len(e.Issues), e.Err)
}

func (e *PartialResultError) Unwrap() error {
	return e.Err
}
