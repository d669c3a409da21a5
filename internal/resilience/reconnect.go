package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/observability"
)

// SupervisorConfig tunes stream reconnection behaviour.
type SupervisorConfig struct {
	// InitialInterval is the first backoff delay after a disconnect.
	InitialInterval time.Duration `yaml:"initialInterval"`
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration `yaml:"maxInterval"`
	// MaxAttempts is the number of consecutive failed sessions tolerated
	// before reconnection is abandoned and escalated.
	MaxAttempts int `yaml:"maxAttempts"`
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	return c
}

// ReconnectSupervisor keeps a streaming session alive, retrying with
// exponential backoff plus jitter. Exhausting the attempt budget escalates
// through the alert callback and stops; the process never restarts itself.
type ReconnectSupervisor struct {
	cfg     SupervisorConfig
	onAlert func(err error)
}

// NewReconnectSupervisor constructs a supervisor. onAlert receives the final
// error when the attempt budget is exhausted; nil is permitted.
func NewReconnectSupervisor(cfg SupervisorConfig, onAlert func(err error)) *ReconnectSupervisor {
	return &ReconnectSupervisor{cfg: cfg.withDefaults(), onAlert: onAlert}
}

// Run executes session in a reconnect loop until ctx is cancelled or the
// consecutive-failure budget is exhausted. The session must invoke up once
// its connection is established; that resets the backoff and the attempt
// counter. Resynchronization and resubscription belong inside the session's
// up path.
func (s *ReconnectSupervisor) Run(ctx context.Context, session func(ctx context.Context, up func()) error) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = s.cfg.InitialInterval
	backoffCfg.MaxInterval = s.cfg.MaxInterval

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		connected := false
		err := session(ctx, func() {
			connected = true
			attempts = 0
			backoffCfg.Reset()
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !connected {
			attempts++
		}
		if attempts >= s.cfg.MaxAttempts {
			final := errs.New("stream", errs.CodeNetwork,
				errs.WithMessage("reconnect attempts exhausted"),
				errs.WithCause(err))
			observability.Log().Error("stream reconnection exhausted, operator intervention required",
				observability.F("attempts", attempts),
				observability.F("error", err))
			if s.onAlert != nil {
				s.onAlert(final)
			}
			return final
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = s.cfg.MaxInterval
		}
		observability.Log().Warn("stream session ended, reconnecting",
			observability.F("error", err),
			observability.F("backoff", sleep),
			observability.F("consecutive_failures", attempts))
		observability.Telemetry().IncCounter("resilience.stream.reconnect", 1, nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
