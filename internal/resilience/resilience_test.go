package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/errs"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:                     "test",
		FailureThreshold:         5,
		RecoveryTimeout:          10 * time.Second,
		HalfOpenSuccessThreshold: 2,
	})
	cb.now = clock.Now
	return cb
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		require.Equal(t, BreakerClosed, cb.State(), "failure %d", i+1)
	}
	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())
	require.False(t, cb.Allow(), "open breaker must reject without a network attempt")
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	cb.RecordFailure()
	require.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.False(t, cb.Allow())

	clock.Advance(11 * time.Second)
	require.Equal(t, BreakerHalfOpen, cb.State())

	// Trial budget equals the success threshold.
	require.True(t, cb.Allow())
	require.True(t, cb.Allow())
	require.False(t, cb.Allow(), "trial budget exhausted")

	cb.RecordSuccess()
	cb.RecordSuccess()
	require.Equal(t, BreakerClosed, cb.State())
	require.True(t, cb.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(11 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())
	require.False(t, cb.Allow())
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	rl := NewRateLimiter(map[string]EndpointQuota{
		"placeOrder": {MaxCalls: 2, Window: time.Second},
	})
	rl.now = clock.Now

	require.True(t, rl.CanCall("placeOrder"))
	rl.RecordCall("placeOrder")
	rl.RecordCall("placeOrder")
	require.False(t, rl.CanCall("placeOrder"))
	require.Equal(t, time.Second, rl.WaitTime("placeOrder"))

	clock.Advance(600 * time.Millisecond)
	require.False(t, rl.CanCall("placeOrder"))
	require.Equal(t, 400*time.Millisecond, rl.WaitTime("placeOrder"))

	clock.Advance(500 * time.Millisecond)
	require.True(t, rl.CanCall("placeOrder"))
	require.Zero(t, rl.WaitTime("placeOrder"))
}

func TestRateLimiterZeroQuotaBlocksEndpoint(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	rl := NewRateLimiter(map[string]EndpointQuota{
		"placeOrder": {MaxCalls: 0, Window: time.Second},
	})
	rl.now = clock.Now

	require.False(t, rl.CanCall("placeOrder"))
	require.Equal(t, time.Second, rl.WaitTime("placeOrder"))

	// Recorded calls never accumulate tokens for a blocked endpoint.
	rl.RecordCall("placeOrder")
	clock.Advance(2 * time.Second)
	require.False(t, rl.CanCall("placeOrder"))
	require.Equal(t, time.Second, rl.WaitTime("placeOrder"))
}

func TestRateLimiterUnknownEndpointUnrestricted(t *testing.T) {
	rl := NewRateLimiter(nil)
	require.True(t, rl.CanCall("anything"))
	require.Zero(t, rl.WaitTime("anything"))
}

func TestSupervisorEscalatesAfterExhaustion(t *testing.T) {
	var alerted atomic.Bool
	s := NewReconnectSupervisor(SupervisorConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxAttempts:     3,
	}, func(err error) { alerted.Store(true) })

	sessions := 0
	err := s.Run(context.Background(), func(ctx context.Context, up func()) error {
		sessions++
		return errors.New("dial refused")
	})
	require.Error(t, err)
	require.Equal(t, errs.CodeNetwork, errs.CodeOf(err))
	require.Equal(t, 3, sessions)
	require.True(t, alerted.Load())
}

func TestSupervisorResetsAttemptsOnConnect(t *testing.T) {
	s := NewReconnectSupervisor(SupervisorConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxAttempts:     2,
	}, nil)

	sessions := 0
	err := s.Run(context.Background(), func(ctx context.Context, up func()) error {
		sessions++
		if sessions <= 3 {
			// Each early session connects before dropping, so the
			// attempt counter never accumulates.
			up()
			return errors.New("connection reset")
		}
		return errors.New("dial refused")
	})
	require.Error(t, err)
	require.Equal(t, 5, sessions, "3 connected sessions + 2 failed attempts")
}

func TestSupervisorStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewReconnectSupervisor(SupervisorConfig{MaxAttempts: 100}, nil)

	err := s.Run(ctx, func(ctx context.Context, up func()) error {
		up()
		cancel()
		return errors.New("dropped")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGuardRejectsLocallyWhileOpen(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	cb := newTestBreaker(clock)
	guard := NewGuard("bybit", GuardConfig{MaxRetries: 1, RetryInitialInterval: time.Millisecond}, cb, NewRateLimiter(nil))

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	calls := 0
	err := guard.Do(context.Background(), "placeOrder", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
	require.Zero(t, calls, "open breaker must not reach the call")
}

func TestGuardBlockedQuotaHonorsContext(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	guard := NewGuard("bybit", GuardConfig{MaxRetries: 1, RetryInitialInterval: time.Millisecond},
		newTestBreaker(clock),
		NewRateLimiter(map[string]EndpointQuota{"placeOrder": {MaxCalls: 0, Window: time.Millisecond}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := guard.Do(ctx, "placeOrder", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, calls, "blocked endpoint must not reach the call")
}

func TestGuardDoesNotRetryRejections(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	guard := NewGuard("bybit", GuardConfig{MaxRetries: 3, RetryInitialInterval: time.Millisecond}, newTestBreaker(clock), NewRateLimiter(nil))

	calls := 0
	rejection := errs.New("bybit", errs.CodeInvalid, errs.WithMessage("bad price"))
	err := guard.Do(context.Background(), "placeOrder", func(ctx context.Context) error {
		calls++
		return rejection
	})
	require.ErrorIs(t, err, rejection)
	require.Equal(t, 1, calls)
}

func TestGuardRetriesTransientThenSucceeds(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	guard := NewGuard("bybit", GuardConfig{MaxRetries: 3, RetryInitialInterval: time.Millisecond, RetryMaxInterval: 2 * time.Millisecond}, newTestBreaker(clock), NewRateLimiter(nil))

	calls := 0
	err := guard.Do(context.Background(), "placeOrder", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.New("bybit", errs.CodeNetwork, errs.WithMessage("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestGuardExhaustsRetries(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", FailureThreshold: 100, RecoveryTimeout: time.Minute})
	cb.now = clock.Now
	guard := NewGuard("bybit", GuardConfig{MaxRetries: 2, RetryInitialInterval: time.Millisecond, RetryMaxInterval: 2 * time.Millisecond}, cb, NewRateLimiter(nil))

	calls := 0
	err := guard.Do(context.Background(), "placeOrder", func(ctx context.Context) error {
		calls++
		return errs.New("bybit", errs.CodeVenue, errs.WithMessage("http 503"))
	})
	require.Error(t, err)
	require.Equal(t, errs.CodeNetwork, errs.CodeOf(err))
	require.Equal(t, 3, calls, "initial attempt plus two retries")
}
