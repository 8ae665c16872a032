package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func succeeding() func(context.Context) error {
	return func(context.Context) error { return nil }
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()
	boom := errors.New("source down")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing(boom)), boom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Calls are now rejected without running fn.
	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()
	boom := errors.New("blip")

	require.Error(t, cb.Execute(ctx, failing(boom)))
	require.Error(t, cb.Execute(ctx, failing(boom)))
	require.NoError(t, cb.Execute(ctx, succeeding()))

	// Two more failures do not reach the threshold of three.
	require.Error(t, cb.Execute(ctx, failing(boom)))
	require.Error(t, cb.Execute(ctx, failing(boom)))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	boom := errors.New("source down")

	require.Error(t, cb.Execute(ctx, failing(boom)))
	assert.Equal(t, CircuitOpen, cb.State())

	// Before the reset timeout the probe is rejected.
	assert.ErrorIs(t, cb.Execute(ctx, succeeding()), ErrCircuitOpen)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Successful probe closes the circuit.
	require.NoError(t, cb.Execute(ctx, succeeding()))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	boom := errors.New("source down")

	require.Error(t, cb.Execute(ctx, failing(boom)))
	time.Sleep(60 * time.Millisecond)

	// Probe fails; straight back to open.
	require.ErrorIs(t, cb.Execute(ctx, failing(boom)), boom)
	assert.ErrorIs(t, cb.Execute(ctx, succeeding()), ErrCircuitOpen)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var changes []string
	cb := NewCircuitBreaker(CircuitConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})

	require.Error(t, cb.Execute(context.Background(), failing(errors.New("x"))))
	assert.Equal(t, []string{"closed->open"}, changes)
}

func TestSourceBreakers_IndependentPerSource(t *testing.T) {
	sb := NewSourceBreakers(CircuitConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	require.Error(t, sb.Get("kompass").Execute(ctx, failing(errors.New("down"))))

	assert.Equal(t, CircuitOpen, sb.Get("kompass").State())
	assert.Equal(t, CircuitClosed, sb.Get("handelsregister").State())

	// The healthy source still executes.
	require.NoError(t, sb.Get("handelsregister").Execute(ctx, succeeding()))

	states := sb.States()
	assert.Equal(t, CircuitOpen, states["kompass"])
	assert.Equal(t, CircuitClosed, states["handelsregister"])
}

func TestSourceBreakers_ReturnsSameBreaker(t *testing.T) {
	sb := NewSourceBreakers(CircuitConfig{})
	assert.Same(t, sb.Get("kompass"), sb.Get("kompass"))
}
