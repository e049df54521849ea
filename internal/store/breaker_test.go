package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(3, 30*time.Second)
	b.now = func() time.Time { return clock }

	boom := errors.New("connection refused")
	calls := 0
	fail := func() error { calls++; return boom }

	for i := 0; i < 3; i++ {
		err := b.Do(fail)
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, 3, calls)
	assert.True(t, b.Open())

	// Short-circuited calls never reach the store.
	for i := 0; i < 10; i++ {
		err := b.Do(fail)
		require.ErrorIs(t, err, ErrStoreUnavailable)
	}
	assert.Equal(t, 3, calls)
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 30*time.Second)
	b.now = func() time.Time { return clock }

	boom := errors.New("timeout")
	b.Do(func() error { return boom })
	b.Do(func() error { return boom })
	require.True(t, b.Open())

	clock = clock.Add(31 * time.Second)

	// First call after cooldown is the probe; success closes the breaker.
	probed := false
	err := b.Do(func() error { probed = true; return nil })
	require.NoError(t, err)
	assert.True(t, probed)
	assert.False(t, b.Open())

	err = b.Do(func() error { return nil })
	assert.NoError(t, err)
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 30*time.Second)
	b.now = func() time.Time { return clock }

	boom := errors.New("timeout")
	b.Do(func() error { return boom })
	b.Do(func() error { return boom })

	clock = clock.Add(31 * time.Second)

	err := b.Do(func() error { return boom })
	require.ErrorIs(t, err, boom)

	// The failed probe re-arms the cooldown.
	assert.True(t, b.Open())
	err = b.Do(func() error { t.Fatal("should not be called"); return nil })
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("flaky")

	b.Do(func() error { return boom })
	b.Do(func() error { return boom })
	b.Do(func() error { return nil })
	b.Do(func() error { return boom })
	b.Do(func() error { return boom })

	// Non-consecutive failures never open the breaker.
	assert.False(t, b.Open())
}

func TestBreakerNotifiesStateChanges(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 30*time.Second)
	b.now = func() time.Time { return clock }

	var transitions []bool
	b.OnStateChange(func(open bool) { transitions = append(transitions, open) })

	boom := errors.New("timeout")
	b.Do(func() error { return nil })
	b.Do(func() error { return boom })
	require.Empty(t, transitions)

	// Crossing the threshold fires exactly one open notification.
	b.Do(func() error { return boom })
	require.Equal(t, []bool{true}, transitions)
	b.Allow()
	require.Equal(t, []bool{true}, transitions)

	clock = clock.Add(31 * time.Second)
	err := b.Do(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, transitions)

	// Successes while closed stay silent.
	b.Do(func() error { return nil })
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker(0, time.Minute)
	boom := errors.New("down")

	for i := 0; i < 20; i++ {
		err := b.Do(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.False(t, b.Open())
}
