package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited marks an upstream 429 response.
	ErrRateLimited = errors.New("rate limited")
	// ErrCircuitOpen is returned while a connector's circuit breaker rejects requests.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrNoData is returned by readers when a lookup finds nothing.
	ErrNoData = errors.New("no data")
)

// FetchError is a network or HTTP failure for one unit of fetching (a page,
// chunk, or station request).
type FetchError struct {
	Source     string
	URL        string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the request may be repeated as-is.
func (e *FetchError) Retryable() bool {
	return errors.Is(e.Err, ErrRateLimited)
}

// ParseError is a malformed payload or row. The affected unit is dropped.
type ParseError struct {
	Source string
	Unit   string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s %s line %d: %v", e.Source, e.Unit, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s %s: %v", e.Source, e.Unit, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NormalizationError is an unrecognized timestamp. The row is dropped.
type NormalizationError struct {
	Raw string
	Err error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize timestamp %q: %v", e.Raw, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// StorageError is a write failure for one key after all retries.
type StorageError struct {
	Key      Key
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
