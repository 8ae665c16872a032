package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: operation timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("bad input"), false},
		{"transient wrapper", NewTransientError(errors.New("503")), true},
		{"wrapped transient", fmt.Errorf("fetch: %w", NewTransientError(errors.New("503"))), true},
		{"eris-wrapped transient", eris.Wrap(NewTransientError(errors.New("503")), "outer"), true},
		{"conflict", NewConflictError("vat:DE:123", nil), true},
		{"net timeout", timeoutErr{}, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"reset by message", errors.New("read: connection reset by peer"), true},
		{"serialization failure", errors.New("ERROR: could not serialize access due to concurrent update"), true},
		{"deadlock", errors.New("deadlock detected"), true},
		{"context canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsConflict(t *testing.T) {
	assert.False(t, IsConflict(nil))
	assert.False(t, IsConflict(errors.New("other")))
	assert.False(t, IsConflict(NewTransientError(errors.New("503"))))

	ce := NewConflictError("lei:ABC", errors.New("duplicate key value"))
	assert.True(t, IsConflict(ce))
	assert.True(t, IsConflict(fmt.Errorf("create: %w", ce)))
	assert.True(t, IsConflict(eris.Wrap(ce, "engine: create company")))
}

func TestConflictError_Message(t *testing.T) {
	withCause := NewConflictError("name:DE:ACME", errors.New("unique violation"))
	assert.Contains(t, withCause.Error(), "name:DE:ACME")
	assert.Contains(t, withCause.Error(), "unique violation")

	bare := NewConflictError("lei:ABC", nil)
	assert.Equal(t, "write conflict on lei:ABC", bare.Error())
}

func TestTransientError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	te := NewTransientError(fmt.Errorf("wrapping: %w", cause))
	assert.ErrorIs(t, te, cause)
}

func TestRetryLogger_DoesNotPanic(t *testing.T) {
	cb := RetryLogger("dedupe", "create company")
	cb(1, errors.New("x"))
}
