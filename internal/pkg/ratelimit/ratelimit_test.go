package ratelimit

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(5, 3, time.Hour)

	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}

	// 其他 key 不受影响
	if !l.Allow("10.0.0.2") {
		t.Error("independent key denied")
	}
}

func TestBlockAfterRepeatedViolations(t *testing.T) {
	l := New(2, 2, time.Hour)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.Allow("k")
	l.Allow("k")
	// 两次违规触发封禁
	l.Allow("k")
	l.Allow("k")

	c := l.clients["k"]
	if !c.blockedUntil.Equal(clock.Add(time.Hour)) {
		t.Fatalf("blockedUntil = %v, want %v", c.blockedUntil, clock.Add(time.Hour))
	}

	// 封禁期间即使桶里有令牌也拒绝
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	if l.Allow("k") {
		t.Error("blocked key allowed")
	}

	// 封禁到期后恢复
	clock = clock.Add(time.Hour + time.Minute)
	if !l.Allow("k") {
		t.Error("key still denied after block expired")
	}
}

func TestPruneKeepsBlockedClients(t *testing.T) {
	l := New(120, 3, time.Hour)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.Allow("idle")
	l.Allow("blocked")
	l.clients["blocked"].blockedUntil = clock.Add(2 * time.Hour)

	clock = clock.Add(time.Hour)
	l.Prune(30 * time.Minute)

	if _, ok := l.clients["idle"]; ok {
		t.Error("idle client not pruned")
	}
	if _, ok := l.clients["blocked"]; !ok {
		t.Error("blocked client pruned while block active")
	}
}
