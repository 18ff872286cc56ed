package ratelimit

import (
	"testing"
	"time"
)

func newLimiter(t *testing.T, perMinute, burst int) *Limiter {
	t.Helper()
	l := New(Config{
		RequestsPerMinute: perMinute,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(l.Stop)
	return l
}

func TestAllow_BurstThenDeny(t *testing.T) {
	limiter := newLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("203.0.113.7") {
			t.Errorf("request %d within burst should be allowed", i)
		}
	}
	if limiter.Allow("203.0.113.7") {
		t.Error("request beyond burst should be denied")
	}

	// 60/min replenishes one token per second
	time.Sleep(time.Second)
	if !limiter.Allow("203.0.113.7") {
		t.Error("request after replenishment should be allowed")
	}
}

func TestAllow_ClientsThrottledSeparately(t *testing.T) {
	limiter := newLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		limiter.Allow("203.0.113.7")
	}

	if limiter.Allow("203.0.113.7") {
		t.Error("exhausted client should be throttled")
	}
	if !limiter.Allow("198.51.100.4") {
		t.Error("fresh client should not be throttled")
	}
}

func TestAllow_Replenishment(t *testing.T) {
	limiter := newLimiter(t, 600, 1) // 10 tokens/sec, burst of 1

	if !limiter.Allow("203.0.113.7") {
		t.Error("first request should be allowed")
	}
	if limiter.Allow("203.0.113.7") {
		t.Error("immediate second request should be denied")
	}

	time.Sleep(110 * time.Millisecond)
	if !limiter.Allow("203.0.113.7") {
		t.Error("request after replenishment window should be allowed")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want 60", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("BurstSize = %d, want 10", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", cfg.CleanupInterval)
	}
}
