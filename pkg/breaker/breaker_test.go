package breaker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(cfg Config) *Breaker {
	return New("test", cfg, log.NewStdLogger(os.Stdout))
}

func failingOp(ctx context.Context) error { return errBoom }
func okOp(ctx context.Context) error      { return nil }

// Three consecutive failures open the circuit; the fourth call is rejected
// without invoking the operation.
func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b := newTestBreaker(Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Call(ctx, failingOp)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "open breaker must not invoke the operation")
}

func TestBreaker_SuccessResetsFailureCountWhileClosed(t *testing.T) {
	b := newTestBreaker(Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})
	ctx := context.Background()

	// Two failures, then a success, then two more failures: still closed.
	_ = b.Call(ctx, failingOp)
	_ = b.Call(ctx, failingOp)
	require.NoError(t, b.Call(ctx, okOp))
	_ = b.Call(ctx, failingOp)
	_ = b.Call(ctx, failingOp)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := newTestBreaker(Config{
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failingOp))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	// First probe is allowed through after the recovery timeout elapses.
	require.NoError(t, b.Call(ctx, okOp))
	assert.Equal(t, StateHalfOpen, b.State())

	// Second consecutive success closes the circuit.
	require.NoError(t, b.Call(ctx, okOp))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(Config{
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 3,
		Timeout:          time.Second,
	})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failingOp))
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Call(ctx, okOp))
	require.Equal(t, StateHalfOpen, b.State())

	// A single failure while half-open goes straight back to open.
	require.Error(t, b.Call(ctx, failingOp))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b := newTestBreaker(Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})
	ctx := context.Background()

	slowOp := func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil // succeeded, but overran the timeout
	}

	err := b.Call(ctx, slowOp)
	assert.ErrorIs(t, err, ErrTimeout)

	err = b.Call(ctx, slowOp)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateOpen, b.State())

	m := b.Metrics()
	assert.Equal(t, int64(2), m.Timeouts)
	assert.Equal(t, int64(2), m.FailedCalls)
}

func TestBreaker_MetricsSuccessRate(t *testing.T) {
	b := newTestBreaker(DefaultConfig())
	ctx := context.Background()

	// No calls yet: rate defined as 0, no division by zero.
	m := b.Metrics()
	assert.Equal(t, 0.0, m.SuccessRate)

	require.NoError(t, b.Call(ctx, okOp))
	_ = b.Call(ctx, failingOp)

	m = b.Metrics()
	assert.Equal(t, int64(2), m.TotalCalls)
	assert.GreaterOrEqual(t, m.SuccessRate, 0.0)
	assert.LessOrEqual(t, m.SuccessRate, 100.0)
	assert.Equal(t, 50.0, m.SuccessRate)
}

func TestBreaker_ManualOverrides(t *testing.T) {
	b := newTestBreaker(DefaultConfig())
	ctx := context.Background()

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Call(ctx, okOp), ErrOpen)

	b.ForceClose()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(ctx, okOp))

	b.ForceOpen()
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	m := b.Metrics()
	assert.Equal(t, int64(0), m.OpenedCount)
	assert.Nil(t, m.LastFailureTime)
}

func TestRegistry_SharedInstancePerName(t *testing.T) {
	ResetRegistry()
	logger := log.NewStdLogger(os.Stdout)

	a := Get("database", nil, logger)
	b := Get("database", nil, logger)
	assert.Same(t, a, b)

	c := Get("other", nil, logger)
	assert.NotSame(t, a, c)
}

func TestRegistry_DatabaseDefaults(t *testing.T) {
	ResetRegistry()
	b := GetDatabase(log.NewStdLogger(os.Stdout))

	// Database breaker uses the tighter database-tuned configuration.
	assert.Equal(t, 3, b.config.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.config.RecoveryTimeout)
	assert.Equal(t, 2, b.config.SuccessThreshold)
	assert.Equal(t, 10*time.Second, b.config.Timeout)
}
