package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenWindow_GrantsWithinWindow(t *testing.T) {
	tw := NewTokenWindow(2, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		grant, err := tw.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, grant.Granted)
	}
}

func TestBackoff_GrowsOnDenialAndResetsOnSuccessStreak(t *testing.T) {
	b := NewBackoff(BackoffExponential, 2.0, 10*time.Millisecond, time.Second, 3)

	b.NotifyResult(false)
	b.mu.Lock()
	afterOneFailure := b.interval
	b.mu.Unlock()
	assert.Greater(t, afterOneFailure, 10*time.Millisecond)

	b.NotifyResult(true)
	b.NotifyResult(true)
	b.NotifyResult(true)
	b.mu.Lock()
	afterReset := b.interval
	b.mu.Unlock()
	assert.Equal(t, 10*time.Millisecond, afterReset)
}

func TestBackoff_BoundedByMaxInterval(t *testing.T) {
	b := NewBackoff(BackoffExponential, 10.0, time.Millisecond, 50*time.Millisecond, 100)
	for i := 0; i < 10; i++ {
		b.NotifyResult(false)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.LessOrEqual(t, b.interval, 50*time.Millisecond)
}

func TestAdaptive_RelaxesAfterGoodWindows(t *testing.T) {
	a := NewAdaptive(10*time.Millisecond, 200*time.Millisecond, 0.1, 2, func() float64 { return 0 })

	// Force an escalation first.
	for i := 0; i < 5; i++ {
		a.NotifyResult(false)
	}
	a.mu.Lock()
	escalated := a.interval
	a.mu.Unlock()
	assert.Greater(t, escalated, 10*time.Millisecond)

	// Two good windows of all-success should relax it back down.
	for w := 0; w < 2; w++ {
		for i := 0; i < 5; i++ {
			a.NotifyResult(true)
		}
	}
	a.mu.Lock()
	relaxed := a.interval
	a.mu.Unlock()
	assert.Less(t, relaxed, escalated)
}
