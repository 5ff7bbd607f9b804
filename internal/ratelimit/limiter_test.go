package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_BlocksSixthRequest(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 5; i++ {
		if !l.Allow("key-a", 5, time.Minute) {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}

	if l.Allow("key-a", 5, time.Minute) {
		t.Error("6th request within the window should be denied")
	}
}

func TestAllow_WindowElapses(t *testing.T) {
	l := NewLimiter()
	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		if !l.Allow("key-b", 5, time.Minute) {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}

	if l.Allow("key-b", 5, time.Minute) {
		t.Error("Request over the limit should be denied")
	}

	// Advance past the window
	l.now = func() time.Time { return base.Add(61 * time.Second) }

	if !l.Allow("key-b", 5, time.Minute) {
		t.Error("Request after the window elapses should be allowed")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 3; i++ {
		l.Allow("key-c", 3, time.Minute)
	}

	if l.Allow("key-c", 3, time.Minute) {
		t.Error("key-c should be exhausted")
	}

	if !l.Allow("key-d", 3, time.Minute) {
		t.Error("key-d should not be affected by key-c's bucket")
	}
}

func TestSweep_EvictsIdleBuckets(t *testing.T) {
	l := NewLimiter()
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Allow("old", 5, time.Minute)

	l.now = func() time.Time { return base.Add(2 * time.Hour) }
	l.Allow("fresh", 5, time.Minute)

	removed := l.Sweep(time.Hour)
	if removed != 1 {
		t.Errorf("Expected 1 evicted bucket, got %d", removed)
	}

	l.mu.Lock()
	_, oldExists := l.buckets["old"]
	_, freshExists := l.buckets["fresh"]
	l.mu.Unlock()

	if oldExists {
		t.Error("Idle bucket should be evicted")
	}
	if !freshExists {
		t.Error("Fresh bucket should survive the sweep")
	}
}
