// Package kvstore provides expiring key-value storage. The trigger
// engine's rate-limit counters, audit log, handler settings, and chat
// session history all live here, so a single shared store covers every
// cross-request piece of state.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store is the expiring key-value contract. A TTL of zero or less means
// the value does not expire. Expired keys behave exactly like absent
// keys on read.
type Store interface {
	// Get returns the value for key, or found=false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set writes value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// TTL returns the remaining time before key expires. found is false
	// when the key is absent or expired; a zero duration with found=true
	// means the key has no expiry.
	TTL(ctx context.Context, key string) (remaining time.Duration, found bool, err error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and unmarshals the stored JSON into v. Returns
// found=false when the key is absent or expired.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and stores it under key with the given TTL.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// memoryEntry is a single value with its expiry deadline.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// Memory is an in-process Store for tests and single-node development.
// Expired entries are reaped lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Test use only.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// TTL implements Store.
func (m *Memory) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return 0, true, nil
	}
	remaining := e.expiresAt.Sub(m.now())
	if remaining <= 0 {
		delete(m.entries, key)
		return 0, false, nil
	}
	return remaining, true, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of live entries. Expired entries that have not
// been reaped yet are included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
