// Package ratelimit implements request admission for API clients (a sliding
// window per client key) and politeness for upstream hosts (a token bucket per
// host).
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config holds the sliding-window settings.
type Config struct {
	// Window is the trailing interval requests are counted over.
	Window time.Duration `mapstructure:"window"`
	// MaxRequests is the number of requests admitted per client per Window.
	MaxRequests int `mapstructure:"max_requests"`
	// MaxClients bounds how many client windows are tracked. The least
	// recently seen client is dropped when the bound is exceeded. Zero means
	// unbounded.
	MaxClients int `mapstructure:"max_clients"`
	// SweepInterval is how often idle windows are reclaimed by Run.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type clientWindow struct {
	key    string
	stamps []time.Time
}

// prune drops timestamps that fell out of the window, oldest first.
func (c *clientWindow) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(c.stamps) && now.Sub(c.stamps[i]) > window {
		i++
	}
	if i > 0 {
		c.stamps = c.stamps[i:]
	}
}

// Window is a per-client sliding-window limiter. It is safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	clients map[string]*list.Element
	lru     *list.List
}

// NewWindow creates a Window limiter.
func NewWindow(cfg Config, clock Clock) *Window {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1000
	}
	return &Window{
		cfg:     cfg,
		clock:   clock,
		clients: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Admit records a request for key and reports whether it is allowed.
// Rejected requests are not recorded.
func (w *Window) Admit(key string) Decision {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	cw := w.lookup(key)
	cw.prune(now, w.cfg.Window)

	if len(cw.stamps) >= w.cfg.MaxRequests {
		retry := w.cfg.Window - now.Sub(cw.stamps[0])
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{
			Allowed:    false,
			Limit:      w.cfg.MaxRequests,
			Remaining:  0,
			RetryAfter: retry,
		}
	}
	cw.stamps = append(cw.stamps, now)
	return Decision{
		Allowed:   true,
		Limit:     w.cfg.MaxRequests,
		Remaining: w.cfg.MaxRequests - len(cw.stamps),
	}
}

// lookup returns the window for key, creating it and enforcing MaxClients.
// Callers must hold w.mu.
func (w *Window) lookup(key string) *clientWindow {
	if el, ok := w.clients[key]; ok {
		w.lru.MoveToFront(el)
		return el.Value.(*clientWindow)
	}
	cw := &clientWindow{key: key}
	w.clients[key] = w.lru.PushFront(cw)
	if w.cfg.MaxClients > 0 {
		for w.lru.Len() > w.cfg.MaxClients {
			oldest := w.lru.Back()
			w.lru.Remove(oldest)
			delete(w.clients, oldest.Value.(*clientWindow).key)
		}
	}
	return cw
}

// Sweep drops windows with no timestamps left inside the window and returns
// how many were removed.
func (w *Window) Sweep() int {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, el := range w.clients {
		cw := el.Value.(*clientWindow)
		cw.prune(now, w.cfg.Window)
		if len(cw.stamps) == 0 {
			w.lru.Remove(el)
			delete(w.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked client windows.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

// Run sweeps idle windows every SweepInterval until ctx is done. It returns
// immediately when SweepInterval is not positive.
func (w *Window) Run(ctx context.Context) {
	if w.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}
