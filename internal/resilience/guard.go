package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/observability"
)

// GuardConfig tunes the retry envelope around guarded calls.
type GuardConfig struct {
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `yaml:"maxRetries"`
	// RetryInitialInterval is the first retry delay.
	RetryInitialInterval time.Duration `yaml:"retryInitialInterval"`
	// RetryMaxInterval caps retry delays.
	RetryMaxInterval time.Duration `yaml:"retryMaxInterval"`
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 2 * time.Second
	}
	return c
}

// Guard wraps every outbound venue call with the circuit breaker, the
// per-endpoint rate limiter, and bounded retries for transient failures.
type Guard struct {
	venue   string
	cfg     GuardConfig
	breaker *CircuitBreaker
	limiter *RateLimiter
}

// NewGuard composes the breaker and limiter for a venue.
func NewGuard(venue string, cfg GuardConfig, breaker *CircuitBreaker, limiter *RateLimiter) *Guard {
	return &Guard{venue: venue, cfg: cfg.withDefaults(), breaker: breaker, limiter: limiter}
}

// Breaker exposes the underlying circuit breaker for state inspection.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Do executes call against endpoint under the full resilience envelope.
// Breaker-open rejections return CodeUnavailable without touching the
// network. Transient failures (network, 5xx, rate-limit) are retried with
// exponential backoff up to MaxRetries and recorded against the breaker;
// non-retryable errors pass through immediately.
func (g *Guard) Do(ctx context.Context, endpoint string, call func(ctx context.Context) error) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = g.cfg.RetryInitialInterval
	backoffCfg.MaxInterval = g.cfg.RetryMaxInterval

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = g.cfg.RetryMaxInterval
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}

		if !g.breaker.Allow() {
			return errs.New(g.venue, errs.CodeUnavailable,
				errs.WithMessage("circuit breaker open for "+endpoint))
		}
		if err := g.waitQuota(ctx, endpoint); err != nil {
			return err
		}

		g.limiter.RecordCall(endpoint)
		err := call(ctx)
		if err == nil {
			g.breaker.RecordSuccess()
			return nil
		}
		if !errs.Retryable(err) {
			// Rejections and other permanent errors are the caller's
			// problem, not a venue health signal.
			return err
		}

		g.breaker.RecordFailure()
		lastErr = err
		observability.Log().Debug("guarded call failed, retrying",
			observability.F("venue", g.venue),
			observability.F("endpoint", endpoint),
			observability.F("attempt", attempt+1),
			observability.F("error", err))
	}
	return errs.New(g.venue, errs.CodeNetwork,
		errs.WithMessage("retries exhausted for "+endpoint),
		errs.WithCause(lastErr))
}

func (g *Guard) waitQuota(ctx context.Context, endpoint string) error {
	for !g.limiter.CanCall(endpoint) {
		wait := g.limiter.WaitTime(endpoint)
		if wait <= 0 {
			return nil
		}
		observability.Telemetry().IncCounter("resilience.ratelimit.throttled", 1,
			map[string]string{"endpoint": endpoint})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
