package harvest

import (
	"errors"
	"fmt"
)

// ErrNotInitialized indicates a sequencing bug: a component was used before
// its Initialize succeeded. Never retried.
var ErrNotInitialized = errors.New("render resource not initialized")

// TransientError marks a failure worth retrying (network, timeout, flaky
// selector wait).
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Cause: err}
}

// BlockedError reports an anti-bot signal (CAPTCHA, block page). It is
// surfaced as an item or term failure and never auto-retried: retrying a
// block only digs the hole deeper.
type BlockedError struct {
	// Kind is "captcha" or "keyword".
	Kind string
	// Marker is the selector or keyword that triggered the signal.
	Marker string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by anti-bot signal (%s: %s)", e.Kind, e.Marker)
}

// IsBlocked reports whether err carries a BlockedError anywhere in its chain.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// RetryExhaustedError wraps the last underlying cause after all attempts
// fail.
type RetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// MergeIntegrityError reports an unreadable temp artifact. The merge that
// raised it has deleted nothing.
type MergeIntegrityError struct {
	Path  string
	Cause error
}

func (e *MergeIntegrityError) Error() string {
	return fmt.Sprintf("temp artifact %s unreadable, merge aborted: %v", e.Path, e.Cause)
}

func (e *MergeIntegrityError) Unwrap() error { return e.Cause }
