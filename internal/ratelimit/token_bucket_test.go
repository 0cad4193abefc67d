package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(perMinute float64) (*PerKey, *time.Time) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := base
	p := NewPerKey(perMinute)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	p, _ := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		if !p.Allow("abcd1234") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if p.Allow("abcd1234") {
		t.Error("request beyond burst was allowed")
	}
}

func TestAllow_RefillsOverTime(t *testing.T) {
	p, now := newTestLimiter(60)

	for i := 0; i < 60; i++ {
		if !p.Allow("abcd1234") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if p.Allow("abcd1234") {
		t.Fatal("bucket should be empty")
	}

	// One request per second refills at 60/minute.
	*now = now.Add(time.Second)
	if !p.Allow("abcd1234") {
		t.Error("expected a token after one second")
	}
	if p.Allow("abcd1234") {
		t.Error("expected only one token after one second")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	p, _ := newTestLimiter(1)

	if !p.Allow("alice111") {
		t.Fatal("first request for alice denied")
	}
	if p.Allow("alice111") {
		t.Error("alice exceeded her allowance")
	}
	if !p.Allow("bob22222") {
		t.Error("bob must have his own bucket")
	}
}

func TestAllow_BurstIsCapped(t *testing.T) {
	p, now := newTestLimiter(2)

	p.Allow("abcd1234")
	p.Allow("abcd1234")

	// A long idle period must not accumulate more than the burst.
	*now = now.Add(time.Hour)
	count := 0
	for p.Allow("abcd1234") {
		count++
		if count > 10 {
			break
		}
	}
	if count != 2 {
		t.Errorf("got %d tokens after idle, want 2", count)
	}
}
