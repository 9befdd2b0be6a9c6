package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if err := s.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := s.Get(ctx, "k")
	if err != nil || !found || string(got) != "v1" {
		t.Fatalf("Get() = %q, %v, %v; want v1, true, nil", got, found, err)
	}

	// Upsert replaces the value.
	if err := s.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Get(ctx, "k")
	if string(got) != "v2" {
		t.Errorf("Get() after upsert = %q, want v2", got)
	}
}

func TestSQLiteExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	// Already-expired TTL behaves like an absent key on read.
	if err := s.Set(ctx, "gone", []byte("x"), -time.Second); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.Get(ctx, "gone"); found {
		t.Error("expired key reported found")
	}

	if err := s.Set(ctx, "live", []byte("x"), time.Hour); err != nil {
		t.Fatal(err)
	}
	remaining, found, err := s.TTL(ctx, "live")
	if err != nil || !found {
		t.Fatalf("TTL() = %v, %v, %v", remaining, found, err)
	}
	if remaining <= 0 || remaining > time.Hour {
		t.Errorf("TTL() remaining = %v, want (0, 1h]", remaining)
	}
}

func TestSQLiteSweep(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	_ = s.Set(ctx, "expired", []byte("x"), -time.Second)
	_ = s.Set(ctx, "live", []byte("x"), time.Hour)
	_ = s.Set(ctx, "forever", []byte("x"), 0)

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d rows, want 1", n)
	}

	if _, found, _ := s.Get(ctx, "live"); !found {
		t.Error("live key removed by sweep")
	}
	if _, found, _ := s.Get(ctx, "forever"); !found {
		t.Error("non-expiring key removed by sweep")
	}
}
