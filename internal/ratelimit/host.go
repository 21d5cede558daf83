package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/mediagate/internal/metrics"
)

// DefaultMaxHosts is the tracked-host count above which idle limiters are swept.
const DefaultMaxHosts = 1024

// HostConfig holds the per-upstream-host token bucket settings.
type HostConfig struct {
	// RPS is the sustained rate of extractor calls per host. Zero disables limiting.
	RPS float64 `mapstructure:"rps"`
	// Burst is the bucket size.
	Burst int `mapstructure:"burst"`
	// MaxHosts triggers a sweep of idle limiters when exceeded.
	MaxHosts int `mapstructure:"max_hosts"`
}

// HostLimiter paces extractor calls per upstream host.
type HostLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	maxHosts     int
}

// NewHostLimiter creates a HostLimiter.
func NewHostLimiter(cfg HostConfig) *HostLimiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}
	return &HostLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		maxHosts:     maxHosts,
	}
}

// Wait blocks until a token is available for the host of rawURL, respecting ctx.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if l.defaultRate == rate.Inf {
		return nil
	}
	host := metrics.SanitizeHost(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("upstream rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveUpstreamWait(host, waited)
	}
	return nil
}

func (l *HostLimiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	if len(l.limiters) >= l.maxHosts {
		l.sweepLocked(time.Now())
	}
	limiter := rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[host] = limiter
	return limiter
}

// Sweep drops limiters whose bucket has refilled, which behave exactly like a
// fresh one, and returns how many were removed.
func (l *HostLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(time.Now())
}

// sweepLocked requires l.mu.
func (l *HostLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for host, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.defaultBurst) {
			delete(l.limiters, host)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked hosts.
func (l *HostLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
