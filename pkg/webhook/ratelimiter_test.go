package webhook

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move the rate limiter window without sleeping.
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRateLimiter(t *testing.T, limit int) (*RateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit)
	rl.now = clock.Now
	t.Cleanup(rl.Stop)
	return rl, clock
}

func TestRateLimiterCheckLimit(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 5)

	ip := "192.168.1.1"

	for i := 0; i < 5; i++ {
		assert.True(t, rl.CheckLimit(ip), "Request %d should be allowed", i+1)
	}

	assert.False(t, rl.CheckLimit(ip), "6th request should be denied")
}

func TestRateLimiterMultipleIPs(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 3)

	ip1 := "192.168.1.1"
	ip2 := "192.168.1.2"

	for i := 0; i < 3; i++ {
		assert.True(t, rl.CheckLimit(ip1))
		assert.True(t, rl.CheckLimit(ip2))
	}

	assert.False(t, rl.CheckLimit(ip1))
	assert.False(t, rl.CheckLimit(ip2))
	assert.Equal(t, 2, rl.Tracked())
}

func TestRateLimiterDisabled(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 0)

	for i := 0; i < 1000; i++ {
		assert.True(t, rl.CheckLimit("10.0.0.1"))
	}
	assert.Equal(t, 0, rl.Tracked())
}

func TestRateLimiterGetRetryAfter(t *testing.T) {
	rl, clock := newTestRateLimiter(t, 2)

	ip := "192.168.1.1"
	assert.Equal(t, 0, rl.GetRetryAfter(ip))

	rl.CheckLimit(ip)
	clock.Advance(15 * time.Second)
	rl.CheckLimit(ip)
	assert.False(t, rl.CheckLimit(ip))

	assert.Equal(t, 45, rl.GetRetryAfter(ip))

	clock.Advance(44*time.Second + 500*time.Millisecond)
	assert.Equal(t, 1, rl.GetRetryAfter(ip))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl, clock := newTestRateLimiter(t, 2)

	ip := "192.168.1.1"

	assert.True(t, rl.CheckLimit(ip))
	clock.Advance(30 * time.Second)
	assert.True(t, rl.CheckLimit(ip))
	assert.False(t, rl.CheckLimit(ip))

	// The first request leaves the window; the second is still in it.
	clock.Advance(31 * time.Second)
	assert.True(t, rl.CheckLimit(ip))
	assert.False(t, rl.CheckLimit(ip))
}

func TestRateLimiterRejectedRequestsAreNotRecorded(t *testing.T) {
	rl, clock := newTestRateLimiter(t, 1)

	ip := "192.168.1.1"
	assert.True(t, rl.CheckLimit(ip))
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		assert.False(t, rl.CheckLimit(ip))
	}

	clock.Advance(11 * time.Second)
	assert.True(t, rl.CheckLimit(ip))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newTestRateLimiter(t, 5)

	rl.CheckLimit("192.168.1.1")
	clock.Advance(30 * time.Second)
	rl.CheckLimit("192.168.1.2")
	assert.Equal(t, 2, rl.Tracked())

	clock.Advance(31 * time.Second)
	rl.cleanup()

	assert.Equal(t, 1, rl.Tracked())
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter(5)

	assert.NotPanics(t, func() {
		rl.Stop()
		rl.Stop()
	})
}
