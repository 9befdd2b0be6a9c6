package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/events"
	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
)

// Default rate-limit bounds for the chat endpoint.
const (
	DefaultRateWindow = 60 * time.Second
	DefaultRateMax    = 10
)

// ratelimitKeyPrefix namespaces counters in the key-value store.
const ratelimitKeyPrefix = "trigger_rate:"

// RateLimiter is a bounded per-key counter with a fixed time window,
// backed by the expiring key-value store. The read-increment-write
// sequence is not atomic: under concurrent requests for the same key
// the effective limit may be exceeded by a small margin. That is
// acceptable for abuse throttling and must not be relied on as a
// security boundary.
type RateLimiter struct {
	kv     kvstore.Store
	logger *slog.Logger
	bus    *events.Bus
}

// NewRateLimiter creates a limiter over kv.
func NewRateLimiter(kv kvstore.Store, logger *slog.Logger, bus *events.Bus) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{kv: kv, logger: logger, bus: bus}
}

// RateKey builds the per-actor counter key for a trigger.
func RateKey(triggerID, sessionID string) string {
	return ratelimitKeyPrefix + triggerID + ":" + sessionID
}

// Allow reports whether another event is permitted under the key's
// window. The first call in a window initializes the counter with the
// window's expiry; later calls increment while preserving the
// remaining TTL, so the window is fixed rather than sliding. A call at
// or over maxCount returns false without incrementing.
//
// Store errors fail open: throttling is advisory, and a broken store
// must not block all traffic.
func (l *RateLimiter) Allow(ctx context.Context, key string, window time.Duration, maxCount int) bool {
	data, found, err := l.kv.Get(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit read failed, allowing", "key", key, "error", err)
		return true
	}

	if !found {
		if err := l.kv.Set(ctx, key, []byte("1"), window); err != nil {
			l.logger.Warn("rate limit init failed", "key", key, "error", err)
		}
		return true
	}

	count, err := strconv.Atoi(string(data))
	if err != nil {
		// Corrupt counter: reset the window rather than lock the key out.
		l.logger.Warn("rate limit counter corrupt, resetting", "key", key, "value", string(data))
		_ = l.kv.Set(ctx, key, []byte("1"), window)
		return true
	}

	if count >= maxCount {
		l.logger.Info("rate limit exceeded", "key", key, "count", count, "max", maxCount)
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceDispatch,
			Kind:      events.KindRateLimited,
			Data:      map[string]any{"key": key, "max": maxCount},
		})
		return false
	}

	remaining, ttlFound, err := l.kv.TTL(ctx, key)
	if err != nil || !ttlFound || remaining <= 0 {
		// Counter expired between the read and here; start a new window.
		remaining = window
	}
	if err := l.kv.Set(ctx, key, []byte(strconv.Itoa(count+1)), remaining); err != nil {
		l.logger.Warn("rate limit increment failed", "key", key, "error", err)
	}
	return true
}

// String describes the limiter for diagnostics.
func (l *RateLimiter) String() string {
	return fmt.Sprintf("RateLimiter(default %d/%s)", DefaultRateMax, DefaultRateWindow)
}
