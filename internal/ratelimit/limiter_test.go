package ratelimit_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trustvault/trustvault/internal/ratelimit"
)

func TestAllowAtMostLimitPerWindow(t *testing.T) {
	l := ratelimit.New(10, time.Minute)

	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow("agent_1").Allowed {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("expected exactly 10 allowed requests, got %d", allowed)
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	l := ratelimit.New(1, 20*time.Millisecond)

	if !l.Allow("agent_1").Allowed {
		t.Fatal("expected first request to be allowed")
	}
	if l.Allow("agent_1").Allowed {
		t.Fatal("expected second request within window to be rejected")
	}

	time.Sleep(30 * time.Millisecond)
	if !l.Allow("agent_1").Allowed {
		t.Fatal("expected request after window reset to be allowed")
	}
}

func TestAllowIsPerKey(t *testing.T) {
	l := ratelimit.New(1, time.Minute)

	if !l.Allow("agent_1").Allowed {
		t.Fatal("expected agent_1 first request to be allowed")
	}
	if !l.Allow("agent_2").Allowed {
		t.Fatal("expected agent_2 to have its own independent bucket")
	}
}

func TestAllowConcurrentRequestsNeverExceedLimit(t *testing.T) {
	l := ratelimit.New(50, time.Minute)

	var wg sync.WaitGroup
	var allowed atomic.Int64
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("agent_1").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 50 {
		t.Fatalf("expected exactly 50 admitted under concurrency, got %d", allowed.Load())
	}
}

func TestEvictRemovesExpiredBuckets(t *testing.T) {
	l := ratelimit.New(5, 10*time.Millisecond)
	l.Allow("agent_1")

	time.Sleep(30 * time.Millisecond)
	n := l.Evict()
	if n != 1 {
		t.Fatalf("expected 1 evicted bucket, got %d", n)
	}
}

func TestDefaultRegistryPresets(t *testing.T) {
	r := ratelimit.DefaultRegistry()

	for i := 0; i < 10; i++ {
		if !r.Auth.Allow("agent_1").Allowed {
			t.Fatalf("expected auth request %d to be allowed", i)
		}
	}
	if r.Auth.Allow("agent_1").Allowed {
		t.Fatal("expected 11th auth request within window to be rejected")
	}
}
