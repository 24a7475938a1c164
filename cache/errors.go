package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrCacheClosed is returned by every operation after Close.
var ErrCacheClosed = errors.New("cache: closed")

// ErrNoLoader is returned when an operation needs a loader but none was
// configured in Options.
var ErrNoLoader = errors.New("cache: no loader configured")

// ErrNilValue is returned when a loader, processor or put produces a nil
// value and the cache rejects nils (the default).
var ErrNilValue = errors.New("cache: nil value rejected")

// ExceptionInfo records a failed load. It is stored on the entry in place
// of a value and projected to a LoaderError on read.
type ExceptionInfo[K comparable] struct {
	// Key the load was for.
	Key K
	// Cause is the error the loader returned.
	Cause error
	// LoadTime is when the failing load started, in epoch millis.
	LoadTime int64
	// Until is the time the exception stays cached, or 0.
	Until int64
}

// LoaderError wraps a loader failure surfaced on read.
type LoaderError[K comparable] struct {
	Info *ExceptionInfo[K]
}

func (e *LoaderError[K]) Error() string {
	if e.Info.Until > 0 {
		return fmt.Sprintf("cache: loader error for key %v, cached until %s: %v",
			e.Info.Key, time.UnixMilli(e.Info.Until).Format(time.RFC3339Nano), e.Info.Cause)
	}
	return fmt.Sprintf("cache: loader error for key %v: %v", e.Info.Key, e.Info.Cause)
}

func (e *LoaderError[K]) Unwrap() error { return e.Info.Cause }

// WriterError wraps a failure of the configured writer. The mutation that
// triggered the write was aborted and the entry left unchanged.
type WriterError struct{ Cause error }

func (e *WriterError) Error() string { return "cache: writer failed: " + e.Cause.Error() }
func (e *WriterError) Unwrap() error { return e.Cause }

// ListenerError wraps the first failure among synchronous listeners. The
// mutation itself has been committed when this is returned.
type ListenerError struct{ Cause error }

func (e *ListenerError) Error() string { return "cache: listener failed: " + e.Cause.Error() }
func (e *ListenerError) Unwrap() error { return e.Cause }

// ProcessingError wraps an error or panic from an entry processor
// passed to Invoke.
type ProcessingError struct{ Cause error }

func (e *ProcessingError) Error() string { return "cache: entry processor failed: " + e.Cause.Error() }
func (e *ProcessingError) Unwrap() error { return e.Cause }

// ExpiryPolicyError wraps an expiry policy failure during a non-load
// mutation. The entry is left unchanged.
type ExpiryPolicyError struct{ Cause error }

func (e *ExpiryPolicyError) Error() string { return "cache: expiry policy failed: " + e.Cause.Error() }
func (e *ExpiryPolicyError) Unwrap() error { return e.Cause }

// ResiliencePolicyError wraps a resilience policy failure. This is a
// double fault: the loader already failed and then the policy deciding
// what to do with the failure failed as well. The loader exception is
// kept on the entry uncached; the policy error is surfaced.
type ResiliencePolicyError struct{ Cause error }

func (e *ResiliencePolicyError) Error() string {
	return "cache: resilience policy failed: " + e.Cause.Error()
}
func (e *ResiliencePolicyError) Unwrap() error { return e.Cause }
