package server

import (
	"testing"
	"time"
)

func TestIPLimiterBurstThenReject(t *testing.T) {
	rl := newIPLimiter(1, 3)
	clock := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if !rl.Allow("192.0.2.1") {
			t.Errorf("attempt %d should be allowed", i+1)
		}
	}
	if rl.Allow("192.0.2.1") {
		t.Error("4th attempt should be rejected")
	}
	if !rl.Allow("192.0.2.2") {
		t.Error("different host should be allowed")
	}
}

func TestIPLimiterRefills(t *testing.T) {
	rl := newIPLimiter(2, 1)
	clock := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return clock }

	if !rl.Allow("192.0.2.1") {
		t.Fatal("first attempt should be allowed")
	}
	if rl.Allow("192.0.2.1") {
		t.Fatal("second immediate attempt should be rejected")
	}
	clock = clock.Add(500 * time.Millisecond)
	if !rl.Allow("192.0.2.1") {
		t.Fatal("should be allowed after the bucket refills")
	}
}

func TestIPLimiterForgetsIdleHosts(t *testing.T) {
	rl := newIPLimiter(1, 1)
	clock := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return clock }

	for _, host := range []string{"192.0.2.1", "192.0.2.2", "2001:db8::1"} {
		rl.Allow(host)
	}
	if rl.Len() != 3 {
		t.Fatalf("tracked = %d, want 3", rl.Len())
	}

	clock = clock.Add(rl.idleTTL + time.Second)
	rl.Allow("192.0.2.9")
	if rl.Len() != 1 {
		t.Fatalf("tracked after sweep = %d, want 1", rl.Len())
	}
}
