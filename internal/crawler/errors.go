package crawler

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a submission rejected before a job exists.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for unknown job identifiers.
	ErrNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when mutating a completed or failed job.
	ErrJobTerminal = errors.New("job is terminal")
	// ErrElementMissing is returned by sessions that can prove a selector is absent.
	ErrElementMissing = errors.New("element missing")
	// ErrNoFreeSession is returned by TryNewSession when the pool is exhausted.
	ErrNoFreeSession = errors.New("no free session")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchErrorKind classifies page load failures.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchTimeout          FetchErrorKind = "timeout"
	FetchNavigationFailed FetchErrorKind = "navigation_failed"
	FetchMissingElement   FetchErrorKind = "missing_element"
)

// FetchError is the typed failure returned by the page fetcher.
type FetchError struct {
	Kind     FetchErrorKind
	URL      string
	Selector string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("fetch %s (%s, selector %q): %v", e.URL, e.Kind, e.Selector, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	return e.Kind == FetchTimeout || e.Kind == FetchNavigationFailed
}

// FailureKind maps the fetch failure onto the PageError vocabulary.
func (e *FetchError) FailureKind() FailureKind {
	switch e.Kind {
	case FetchTimeout:
		return FailureTimeout
	case FetchMissingElement:
		return FailureMissingElement
	default:
		return FailureNavigationError
	}
}

// NewFetchError classifies err for the given URL and selector.
func NewFetchError(url, selector string, err error) *FetchError {
	kind := FetchNavigationFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FetchTimeout
	case errors.Is(err, ErrElementMissing):
		kind = FetchMissingElement
	}
	return &FetchError{Kind: kind, URL: url, Selector: selector, Err: err}
}

// DiscoveryError means the seed listing page could not be loaded.
type DiscoveryError struct {
	SeedURL string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.SeedURL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
