package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterSettings configures optional token-bucket rate limiting per host.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

func (s RateLimiterSettings) enabled() bool {
	return s.Requests > 0 && s.Window > 0
}

// hostState tracks politeness bookkeeping for one host.
type hostState struct {
	lastRequest time.Time
	bucket      *rate.Limiter
}

// HostLimiter spaces requests per host: a fixed delay between consecutive
// requests plus an optional token bucket. Both are off by default, which
// suits a mirror of a single permissive catalog host.
type HostLimiter struct {
	delay time.Duration
	rate  RateLimiterSettings

	mu    sync.Mutex
	hosts map[string]*hostState
}

// NewHostLimiter creates a limiter with a fixed inter-request delay and
// optional rate limiting.
func NewHostLimiter(delay time.Duration, rateCfg RateLimiterSettings) *HostLimiter {
	return &HostLimiter{
		delay: delay,
		rate:  rateCfg,
		hosts: make(map[string]*hostState),
	}
}

// Wait blocks until the next request to host is permitted.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || host == "" {
		return nil
	}
	if h.delay <= 0 && !h.rate.enabled() {
		return nil
	}
	host = strings.ToLower(host)

	h.mu.Lock()
	state := h.hosts[host]
	if state == nil {
		state = &hostState{}
		if h.rate.enabled() {
			interval := h.rate.Window / time.Duration(h.rate.Requests)
			if interval <= 0 {
				interval = time.Millisecond
			}
			state.bucket = rate.NewLimiter(rate.Every(interval), h.rate.Requests)
		}
		h.hosts[host] = state
	}
	var pause time.Duration
	if h.delay > 0 && !state.lastRequest.IsZero() {
		pause = h.delay - time.Since(state.lastRequest)
	}
	bucket := state.bucket
	h.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if bucket != nil {
		if err := bucket.Wait(ctx); err != nil {
			return err
		}
	}

	h.mu.Lock()
	state.lastRequest = time.Now()
	h.mu.Unlock()
	return nil
}
