package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func TestWindowRejectsAfterMaxAndResets(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(Config{Window: 600 * time.Second, MaxRequests: 1000}, clock)

	for i := 0; i < 1000; i++ {
		d := w.Admit("203.0.113.7")
		require.True(t, d.Allowed, "request %d", i+1)
		clock.Advance(10 * time.Millisecond)
	}
	d := w.Admit("203.0.113.7")
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Positive(t, d.RetryAfter)

	clock.Advance(601 * time.Second)
	require.True(t, w.Admit("203.0.113.7").Allowed)
}

func TestWindowSlidesOldestOut(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(Config{Window: 10 * time.Second, MaxRequests: 3}, clock)

	require.True(t, w.Admit("c").Allowed) // t=0
	clock.Advance(4 * time.Second)
	require.True(t, w.Admit("c").Allowed) // t=4
	require.True(t, w.Admit("c").Allowed) // t=4
	require.False(t, w.Admit("c").Allowed)

	clock.Advance(6 * time.Second) // t=10, first stamp exactly at the edge
	require.False(t, w.Admit("c").Allowed)

	clock.Advance(time.Second) // t=11, first stamp expired
	d := w.Admit("c")
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestWindowRejectedRequestsAreNotRecorded(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(Config{Window: 10 * time.Second, MaxRequests: 1}, clock)

	require.True(t, w.Admit("c").Allowed)
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		require.False(t, w.Admit("c").Allowed)
	}
	clock.Advance(6 * time.Second)
	require.True(t, w.Admit("c").Allowed)
}

func TestWindowClientsAreIndependent(t *testing.T) {
	t.Parallel()

	w := NewWindow(Config{Window: time.Minute, MaxRequests: 1}, newFakeClock())
	require.True(t, w.Admit("a").Allowed)
	require.False(t, w.Admit("a").Allowed)
	require.True(t, w.Admit("b").Allowed)
}

func TestWindowMaxClientsEvictsLeastRecent(t *testing.T) {
	t.Parallel()

	w := NewWindow(Config{Window: time.Minute, MaxRequests: 1, MaxClients: 2}, newFakeClock())
	require.True(t, w.Admit("a").Allowed)
	require.True(t, w.Admit("b").Allowed)
	require.True(t, w.Admit("c").Allowed) // evicts "a"
	require.Equal(t, 2, w.Len())

	require.True(t, w.Admit("a").Allowed, "evicted client starts a fresh window")
	require.False(t, w.Admit("c").Allowed)
}

func TestWindowSweepRemovesIdleClients(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(Config{Window: time.Minute, MaxRequests: 10}, clock)
	w.Admit("old")
	clock.Advance(2 * time.Minute)
	w.Admit("fresh")

	require.Equal(t, 1, w.Sweep())
	require.Equal(t, 1, w.Len())
}

func TestWindowRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	w := NewWindow(Config{SweepInterval: time.Millisecond}, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWindowConcurrentAdmit(t *testing.T) {
	t.Parallel()

	w := NewWindow(Config{Window: time.Minute, MaxRequests: 100}, newFakeClock())
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Admit("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, allowed)
}

func TestKeyResolver(t *testing.T) {
	t.Parallel()

	newReq := func(remote, xff string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
		r.RemoteAddr = remote
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		return r
	}

	trusting, err := NewKeyResolver(true, nil)
	require.NoError(t, err)
	require.Equal(t, "198.51.100.1", trusting.Key(newReq("10.0.0.2:4000", "198.51.100.1, 10.0.0.2")))
	require.Equal(t, "10.0.0.2", trusting.Key(newReq("10.0.0.2:4000", "")))

	direct, err := NewKeyResolver(false, nil)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2", direct.Key(newReq("10.0.0.2:4000", "198.51.100.1")))

	scoped, err := NewKeyResolver(true, []string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)
	require.Equal(t, "198.51.100.1", scoped.Key(newReq("10.1.1.1:80", "198.51.100.1")))
	require.Equal(t, "198.51.100.1", scoped.Key(newReq("192.0.2.1:80", "198.51.100.1")))
	require.Equal(t, "203.0.113.9", scoped.Key(newReq("203.0.113.9:80", "198.51.100.1")))

	require.Equal(t, "unknown", direct.Key(newReq("", "")))

	_, err = NewKeyResolver(true, []string{"not-a-cidr/99"})
	require.Error(t, err)
}
