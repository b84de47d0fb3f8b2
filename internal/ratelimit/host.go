// Package ratelimit spaces outbound requests per host and enforces the
// persistent daily request budget shared by every process on the machine.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostRateLimiter enforces a minimum interval between requests to the same
// host. Hosts are independent of each other.
type HostRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	interval time.Duration
}

// NewHostRateLimiter creates a limiter with the given per-host interval.
func NewHostRateLimiter(interval time.Duration) *HostRateLimiter {
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// WaitForHost blocks until a request to host is allowed or ctx is done.
func (h *HostRateLimiter) WaitForHost(ctx context.Context, host string) error {
	if h.interval <= 0 {
		return nil
	}
	return h.getLimiter(host).Wait(ctx)
}

func (h *HostRateLimiter) getLimiter(host string) *rate.Limiter {
	h.mu.RLock()
	limiter, exists := h.limiters[host]
	h.mu.RUnlock()
	if exists {
		return limiter
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if limiter, exists = h.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Every(h.interval), 1)
	h.limiters[host] = limiter
	return limiter
}
