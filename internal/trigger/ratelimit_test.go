package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	l := NewRateLimiter(kv, nil, nil)
	key := RateKey("chat", "session-1")

	for i := 0; i < DefaultRateMax; i++ {
		if !l.Allow(ctx, key, DefaultRateWindow, DefaultRateMax) {
			t.Fatalf("Allow() = false on call %d, want true", i+1)
		}
	}
	if l.Allow(ctx, key, DefaultRateWindow, DefaultRateMax) {
		t.Errorf("Allow() = true on call %d, want false", DefaultRateMax+1)
	}
	// Denied calls do not increment, so the next call stays denied too.
	if l.Allow(ctx, key, DefaultRateWindow, DefaultRateMax) {
		t.Error("Allow() = true after limit hit, want false")
	}
}

func TestRateLimiterWindowElapse(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	now := time.Now()
	kv.SetClock(func() time.Time { return now })
	l := NewRateLimiter(kv, nil, nil)
	key := RateKey("chat", "session-2")

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, key, time.Minute, 3) {
			t.Fatalf("Allow() = false on call %d", i+1)
		}
	}
	if l.Allow(ctx, key, time.Minute, 3) {
		t.Fatal("Allow() = true at limit, want false")
	}

	// Advance past the window; the counter expires and a fresh one starts.
	now = now.Add(61 * time.Second)
	if !l.Allow(ctx, key, time.Minute, 3) {
		t.Error("Allow() = false after window elapsed, want true")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewRateLimiter(kvstore.NewMemory(), nil, nil)

	keyA := RateKey("chat", "alice")
	keyB := RateKey("chat", "bob")

	for i := 0; i < 2; i++ {
		l.Allow(ctx, keyA, time.Minute, 2)
	}
	if l.Allow(ctx, keyA, time.Minute, 2) {
		t.Error("exhausted key still allowed")
	}
	if !l.Allow(ctx, keyB, time.Minute, 2) {
		t.Error("fresh key denied by another key's counter")
	}
}

func TestRateLimiterCorruptCounterResets(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	l := NewRateLimiter(kv, nil, nil)
	key := RateKey("chat", "session-3")

	if err := kv.Set(ctx, key, []byte("not a number"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if !l.Allow(ctx, key, time.Minute, 2) {
		t.Error("Allow() = false on corrupt counter, want reset and true")
	}

	// The reset counter behaves normally afterwards.
	if !l.Allow(ctx, key, time.Minute, 2) {
		t.Error("Allow() = false on second call after reset")
	}
	if l.Allow(ctx, key, time.Minute, 2) {
		t.Error("Allow() = true past limit after reset")
	}
}
