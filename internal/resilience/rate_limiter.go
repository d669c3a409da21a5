package resilience

import (
	"sync"
	"time"
)

// EndpointQuota configures one endpoint's sliding-window allowance.
type EndpointQuota struct {
	// MaxCalls is the number of calls permitted per window.
	MaxCalls int `yaml:"maxCalls"`
	// Window is the sliding window length.
	Window time.Duration `yaml:"window"`
}

// RateLimiter enforces per-endpoint sliding-window quotas over call
// timestamps. Endpoints without a configured quota are unrestricted.
type RateLimiter struct {
	now func() time.Time

	mu     sync.Mutex
	quotas map[string]EndpointQuota
	calls  map[string][]time.Time
}

// NewRateLimiter constructs a limiter with the given per-endpoint quotas.
func NewRateLimiter(quotas map[string]EndpointQuota) *RateLimiter {
	q := make(map[string]EndpointQuota, len(quotas))
	for endpoint, quota := range quotas {
		q[endpoint] = quota
	}
	return &RateLimiter{
		now:    time.Now,
		quotas: q,
		calls:  make(map[string][]time.Time),
	}
}

// CanCall reports whether another call to endpoint fits within its window.
func (rl *RateLimiter) CanCall(endpoint string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	quota, ok := rl.quotas[endpoint]
	if !ok {
		return true
	}
	rl.pruneLocked(endpoint, quota)
	return len(rl.calls[endpoint]) < quota.MaxCalls
}

// RecordCall appends a call timestamp for endpoint.
func (rl *RateLimiter) RecordCall(endpoint string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.quotas[endpoint]; !ok {
		return
	}
	rl.calls[endpoint] = append(rl.calls[endpoint], rl.now())
}

// WaitTime returns how long until the oldest recorded call leaves the
// window, i.e. when the next call becomes permissible. Zero when a call is
// already allowed.
func (rl *RateLimiter) WaitTime(endpoint string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	quota, ok := rl.quotas[endpoint]
	if !ok {
		return 0
	}
	rl.pruneLocked(endpoint, quota)
	calls := rl.calls[endpoint]
	if len(calls) < quota.MaxCalls {
		return 0
	}
	if len(calls) == 0 {
		// MaxCalls <= 0 blocks the endpoint outright.
		return quota.Window
	}
	return quota.Window - rl.now().Sub(calls[0])
}

func (rl *RateLimiter) pruneLocked(endpoint string, quota EndpointQuota) {
	cutoff := rl.now().Add(-quota.Window)
	calls := rl.calls[endpoint]
	idx := 0
	for idx < len(calls) && !calls[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		rl.calls[endpoint] = calls[idx:]
	}
}
