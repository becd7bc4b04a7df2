package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(1000, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow("test-key") {
			t.Errorf("Allow() should return true for request %d (within burst)", i)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2) // 0.1 req/sec, burst of 2

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed (burst)")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be blocked (over limit)")
	}
}

func TestRateLimiter_PerKeyIsolation(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2)

	limiter.Allow("key1")
	limiter.Allow("key1")

	if !limiter.Allow("key2") {
		t.Error("key2's first request should be allowed")
	}
	if !limiter.Allow("key2") {
		t.Error("key2's second request should be allowed")
	}
}

func TestRateLimiter_DefaultRateLimiter(t *testing.T) {
	limiter := DefaultRateLimiter()
	if limiter == nil {
		t.Fatal("DefaultRateLimiter() returned nil")
	}
	if !limiter.Allow("test") {
		t.Error("Default limiter should allow requests")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(10000, 100)
	var wg sync.WaitGroup
	var allowed atomic.Int64

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "key-" + string(rune('0'+i%10))
			if limiter.Allow(key) {
				allowed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// 20 requests per key, well inside the burst of 100
	if got := allowed.Load(); got != 200 {
		t.Errorf("allowed = %d, want 200", got)
	}
	if limiter.Len() != 10 {
		t.Errorf("Len() = %d, want 10", limiter.Len())
	}
}

func TestRateLimiter_CleanupRemovesIdle(t *testing.T) {
	limiter := NewRateLimiter(10, 5)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(10 * time.Minute)
	limiter.Allow("fresh")

	if removed := limiter.Cleanup(5 * time.Minute); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if limiter.Len() != 1 {
		t.Errorf("Len() = %d, want 1", limiter.Len())
	}
}

func TestRateLimiter_CleanupRestoresBurst(t *testing.T) {
	limiter := NewRateLimiter(0.1, 1)
	limiter.Allow("key1")
	if limiter.Allow("key1") {
		t.Fatal("second request should be blocked")
	}

	limiter.Cleanup(0)
	limiter.Cleanup(-time.Second)

	if !limiter.Allow("key1") {
		t.Error("After cleanup, first request should be allowed")
	}
}
