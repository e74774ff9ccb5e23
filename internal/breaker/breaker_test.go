// ABOUTME: Tests for the circuit breaker state machine.
// ABOUTME: Covers threshold trips, fail-fast rejection, and recovery probes.

package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(b *Breaker, n int) {
	for range n {
		_ = b.Do(func() error { return errBoom })
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b := New("svc", 3, time.Minute, nil)

	failing(b, 2)

	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("svc", 3, time.Minute, nil)

	failing(b, 3)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not invoke the call")
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b := New("svc", 3, time.Minute, nil)

	failing(b, 2)
	require.NoError(t, b.Do(func() error { return nil }))
	failing(b, 2)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_RecoveryProbeClosesOnSuccess(t *testing.T) {
	b := New("svc", 1, 20*time.Millisecond, nil)

	failing(b, 1)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New("svc", 1, 20*time.Millisecond, nil)

	failing(b, 1)
	time.Sleep(30 * time.Millisecond)

	err := b.Do(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())

	// Back to fail-fast until the recovery timeout elapses again.
	require.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b := New("svc", 1, 20*time.Millisecond, nil)

	failing(b, 1)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Allow(), "first caller after recovery probes")
	require.ErrorIs(t, b.Allow(), ErrOpen, "second caller waits for the probe result")

	b.RecordSuccess()
	require.NoError(t, b.Allow())
}

func TestBreaker_DoPassesThroughError(t *testing.T) {
	b := New("svc", 3, time.Minute, nil)

	err := b.Do(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrOpen)
}

func TestBreaker_Snapshot(t *testing.T) {
	b := New("svc", 5, time.Minute, nil)
	failing(b, 2)

	got := b.Snapshot()
	assert.Equal(t, "svc", got.Name)
	assert.Equal(t, StateClosed, got.State)
	assert.Equal(t, 2, got.Failures)
}
