package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (network timeout,
// 429/5xx from a source endpoint, serialization failure).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks an error as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// ConflictError signals that a decide-and-write step lost a race on the
// canonical index (unique-key violation or lock contention). The caller
// should re-read the index and retry the match.
type ConflictError struct {
	Key string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return "write conflict on " + e.Key + ": " + e.Err.Error()
	}
	return "write conflict on " + e.Key
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NewConflictError wraps a storage error as an index write conflict.
func NewConflictError(key string, err error) *ConflictError {
	return &ConflictError{Key: key, Err: err}
}

// IsConflict reports whether err is (or wraps) a write conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError or ConflictError, or matches common transient network
// patterns from source clients.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if IsConflict(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"i/o timeout",
		"deadlock detected",
		"could not serialize access",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
