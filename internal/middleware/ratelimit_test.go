package middleware

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestThrottle(t *testing.T, cfg ThrottleConfig) *AuthThrottle {
	t.Helper()
	throttle := NewAuthThrottle(context.Background(), cfg)
	t.Cleanup(throttle.Stop)
	return throttle
}

func TestAuthThrottleUnknownClientAllowed(t *testing.T) {
	throttle := newTestThrottle(t, ThrottleConfig{FailuresPerMinute: 3})

	if !throttle.Allow("198.51.100.1") {
		t.Fatal("client with no failures should be allowed")
	}

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	if len(throttle.clients) != 0 {
		t.Fatalf("Allow created tracking state for %d clients, want 0", len(throttle.clients))
	}
}

func TestAuthThrottleExhaustsAllowance(t *testing.T) {
	throttle := newTestThrottle(t, ThrottleConfig{FailuresPerMinute: 3})

	for i := range 3 {
		if !throttle.Fail("198.51.100.1") {
			t.Fatalf("failure %d should still be within the allowance", i+1)
		}
	}
	if throttle.Fail("198.51.100.1") {
		t.Fatal("fourth failure should exceed an allowance of 3")
	}
	if throttle.Allow("198.51.100.1") {
		t.Fatal("exhausted client should stay blocked")
	}
}

func TestAuthThrottleClientsIndependent(t *testing.T) {
	throttle := newTestThrottle(t, ThrottleConfig{FailuresPerMinute: 2})

	for range 3 {
		throttle.Fail("198.51.100.1")
	}
	if throttle.Allow("198.51.100.1") {
		t.Fatal("first client should be blocked")
	}
	if !throttle.Fail("198.51.100.2") {
		t.Fatal("second client has its own bucket and should be allowed")
	}
}

func TestAuthThrottleZeroConfigUsesDefaults(t *testing.T) {
	throttle := newTestThrottle(t, ThrottleConfig{})

	for i := range defaultFailuresPerMinute {
		if !throttle.Fail("198.51.100.1") {
			t.Fatalf("failure %d should be within the default allowance of %d", i+1, defaultFailuresPerMinute)
		}
	}
	if throttle.Fail("198.51.100.1") {
		t.Fatal("failure past the default allowance should be rejected")
	}
}

func TestAuthThrottleEvictsIdlestAtCapacity(t *testing.T) {
	throttle := newTestThrottle(t, ThrottleConfig{FailuresPerMinute: 5, MaxTrackedClients: 3})

	throttle.Fail("10.0.0.1")
	throttle.Fail("10.0.0.2")
	throttle.Fail("10.0.0.3")

	// Backdate the second client so it is the eviction candidate.
	throttle.mu.Lock()
	throttle.clients["10.0.0.2"].touched = time.Now().Add(-time.Hour)
	throttle.mu.Unlock()

	throttle.Fail("10.0.0.4")

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	if len(throttle.clients) != 3 {
		t.Fatalf("tracking %d clients, want 3", len(throttle.clients))
	}
	if _, ok := throttle.clients["10.0.0.2"]; ok {
		t.Fatal("idlest client should have been evicted")
	}
	if _, ok := throttle.clients["10.0.0.4"]; !ok {
		t.Fatal("new client should be tracked after eviction")
	}
}

func TestAuthThrottleForgetsIdleClients(t *testing.T) {
	throttle := newTestThrottle(t, ThrottleConfig{FailuresPerMinute: 5})

	throttle.Fail("10.0.0.1")
	throttle.Fail("10.0.0.2")

	throttle.mu.Lock()
	throttle.clients["10.0.0.1"].touched = time.Now().Add(-defaultIdleAfter - time.Minute)
	throttle.mu.Unlock()

	throttle.forgetIdle()

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	if _, ok := throttle.clients["10.0.0.1"]; ok {
		t.Fatal("idle client should have been forgotten")
	}
	if _, ok := throttle.clients["10.0.0.2"]; !ok {
		t.Fatal("active client should still be tracked")
	}
}

func TestAuthThrottleCapNeverExceeded(t *testing.T) {
	throttle := newTestThrottle(t, ThrottleConfig{FailuresPerMinute: 1, MaxTrackedClients: 50})

	for i := range 200 {
		throttle.Fail(fmt.Sprintf("192.0.2.%d", i))
	}

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	if len(throttle.clients) > 50 {
		t.Fatalf("tracking %d clients, cap is 50", len(throttle.clients))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.7:1234", "203.0.113.7"},
		{"203.0.113.7", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"2001:db8::1", "2001:db8::1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ClientIP(tt.in); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
