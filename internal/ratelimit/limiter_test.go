package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ConsumesBurstThenBlocks(t *testing.T) {
	r := NewRegistry(map[string]SourceLimit{
		"registry-api": {RequestsPerSecond: 10, Burst: 2},
	}, SourceLimit{RequestsPerSecond: 1})

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "registry-api"))
	require.NoError(t, r.Acquire(ctx, "registry-api"))

	// Bucket drained; the third token takes ~100ms at 10 rps.
	start := time.Now()
	require.NoError(t, r.Acquire(ctx, "registry-api"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquire_CancelledContext(t *testing.T) {
	r := NewRegistry(map[string]SourceLimit{
		"slow": {RequestsPerSecond: 0.001, Burst: 1},
	}, SourceLimit{RequestsPerSecond: 1})

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "slow")) // burst token

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := r.Acquire(ctx, "slow")
	require.Error(t, err)
}

func TestAcquire_IndependentKeys(t *testing.T) {
	r := NewRegistry(map[string]SourceLimit{
		"a": {RequestsPerSecond: 0.001, Burst: 1},
		"b": {RequestsPerSecond: 100, Burst: 5},
	}, SourceLimit{RequestsPerSecond: 1})

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "a"))

	// "a" being drained must not slow "b" down.
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Acquire(ctx, "b"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquire_UnknownKeyUsesFallback(t *testing.T) {
	r := NewRegistry(nil, SourceLimit{RequestsPerSecond: 100, Burst: 3})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(ctx, "never-configured"))
	}
	assert.False(t, r.Allow("never-configured"), "burst exhausted")
}

func TestAcquire_NilRegistryNeverBlocks(t *testing.T) {
	var r *Registry
	require.NoError(t, r.Acquire(context.Background(), "anything"))
	assert.True(t, r.Allow("anything"))
}
