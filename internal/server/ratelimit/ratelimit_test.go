package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic refill tests.
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

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	l := NewLimiter(cfg)
	t.Cleanup(l.Stop)
	clock := &fakeClock{now: time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)}
	l.now = clock.Now
	return l, clock
}

func TestLimiter_Allow(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})

	for i := 0; i < 10; i++ {
		allowed, info := l.Allow("127.0.0.1", "/info", "GET")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 10, info.Limit)
		assert.Equal(t, 10-(i+1), info.Remaining)
	}

	allowed, info := l.Allow("127.0.0.1", "/info", "GET")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	// One token refills every 6s at 10 per minute.
	assert.InDelta(t, float64(6*time.Second), float64(info.RetryAfter), float64(time.Millisecond))
	assert.True(t, info.ResetTime.After(time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)))
}

func TestLimiter_Refill(t *testing.T) {
	l, clock := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 60, DefaultWindow: time.Minute})

	for i := 0; i < 60; i++ {
		l.Allow("c", "/info", "GET")
	}
	allowed, _ := l.Allow("c", "/info", "GET")
	require.False(t, allowed)

	clock.Advance(time.Second)
	allowed, _ = l.Allow("c", "/info", "GET")
	assert.True(t, allowed)
	allowed, _ = l.Allow("c", "/info", "GET")
	assert.False(t, allowed)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute})

	allowed, _ := l.Allow("a", "/info", "GET")
	assert.True(t, allowed)
	allowed, _ = l.Allow("a", "/info", "GET")
	assert.False(t, allowed)
	allowed, _ = l.Allow("b", "/info", "GET")
	assert.True(t, allowed)
}

func TestLimiter_WhitelistAndBlacklist(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"10.0.0.1": true},
		Blacklist:     map[string]bool{"10.0.0.2": true},
	})

	for i := 0; i < 5; i++ {
		allowed, _ := l.Allow("10.0.0.1", "/reconcile", "POST")
		assert.True(t, allowed)
	}
	allowed, _ := l.Allow("10.0.0.2", "/health", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{Enabled: false, DefaultLimit: 1, DefaultWindow: time.Minute})

	for i := 0; i < 5; i++ {
		allowed, info := l.Allow("c", "/reconcile", "POST")
		assert.True(t, allowed)
		assert.Zero(t, info.Limit)
	}
	assert.Zero(t, l.Len())
}

func TestLimiter_EndpointTiers(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	})

	// /reconcile allows a burst of 2.
	for i := 0; i < 2; i++ {
		allowed, info := l.Allow("c", "/reconcile", "POST")
		require.True(t, allowed)
		assert.Equal(t, 10, info.Limit)
	}
	allowed, info := l.Allow("c", "/reconcile", "POST")
	assert.False(t, allowed)
	assert.InDelta(t, float64(6*time.Minute), float64(info.RetryAfter), float64(time.Millisecond))

	// Other endpoints keep their own buckets.
	allowed, info = l.Allow("c", "/auth", "POST")
	assert.True(t, allowed)
	assert.Equal(t, 30, info.Limit)

	// Health checks are never limited.
	for i := 0; i < 50; i++ {
		allowed, _ := l.Allow("c", "/health", "GET")
		assert.True(t, allowed)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, IdleTTL: time.Hour})

	l.Allow("old", "/info", "GET")
	clock.Advance(2 * time.Hour)
	l.Allow("new", "/info", "GET")
	require.Equal(t, 2, l.Len())

	l.sweep()
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Hour})

	var allowedCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if ok, _ := l.Allow("c", "/info", "GET"); ok {
					allowedCount.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(100), allowedCount.Load())
}

func TestNewLimiter_NilConfig(t *testing.T) {
	l := NewLimiter(nil)
	defer l.Stop()
	l.Stop()

	allowed, info := l.Allow("c", "/info", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)
}

func TestMatchEndpoint(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/reconcile", Method: "POST", Limit: 10},
		{Path: "/sessions/", Method: "DELETE", Limit: 5},
		{Path: "/sessions/admin/", Method: "DELETE", Limit: 1},
	}

	assert.Equal(t, 10, MatchEndpoint("/reconcile", "POST", configs).Limit)
	assert.Nil(t, MatchEndpoint("/reconcile", "GET", configs))
	assert.Equal(t, 5, MatchEndpoint("/sessions/abc", "DELETE", configs).Limit)
	assert.Zero(t, MatchEndpoint("/health", "GET", configs).Limit)
	assert.Nil(t, MatchEndpoint("/info", "GET", configs))

	assert.Equal(t, 10, MatchEndpoint("/reconcile", "post", configs).Limit)
	assert.Equal(t, 1, MatchEndpoint("/sessions/admin/x", "DELETE", configs).Limit)
	assert.Zero(t, MatchEndpoint("/reconcile", "OPTIONS", configs).Limit)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "50")
	t.Setenv("RATE_LIMIT_DEFAULT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2")
	t.Setenv("RATE_LIMIT_BLACKLIST", "")

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.Equal(t, time.Hour, cfg.IdleTTL)
	assert.True(t, cfg.Whitelist["10.0.0.2"])
	assert.Empty(t, cfg.Blacklist)
	assert.NotEmpty(t, cfg.EndpointConfigs)

	t.Setenv("RATE_LIMIT_ENABLED", "false")
	assert.False(t, LoadConfig().Enabled)
}

func TestParseEndpointConfigs(t *testing.T) {
	got, err := ParseEndpointConfigs("post /reconcile=5/1h/1, GET /info=100/1m,")
	require.NoError(t, err)
	assert.Equal(t, []EndpointConfig{
		{Path: "/reconcile", Method: "POST", Limit: 5, Window: time.Hour, Burst: 1},
		{Path: "/info", Method: "GET", Limit: 100, Window: time.Minute},
	}, got)

	for _, bad := range []string{
		"/reconcile=5/1h",
		"POST reconcile=5/1h",
		"POST /reconcile=5",
		"POST /reconcile=five/1h",
		"POST /reconcile=5/soon",
		"POST /reconcile=5/1h/-1",
	} {
		_, err := ParseEndpointConfigs(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadConfig_EndpointOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_ENDPOINTS", "POST /reconcile=2/1m, GET /info=5/1m")

	cfg := LoadConfig()
	require.True(t, cfg.Enabled)
	assert.Equal(t, 2, MatchEndpoint("/reconcile", "POST", cfg.EndpointConfigs).Limit)
	assert.Equal(t, 5, MatchEndpoint("/info", "GET", cfg.EndpointConfigs).Limit)
	assert.Equal(t, 30, MatchEndpoint("/auth", "POST", cfg.EndpointConfigs).Limit)

	t.Setenv("RATE_LIMIT_ENDPOINTS", "nonsense")
	assert.Equal(t, DefaultEndpointConfigs(), LoadConfig().EndpointConfigs)
}
