package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
)

// Audit log bounds.
const (
	// DefaultAuditCapacity is the maximum retained entries; the oldest
	// are evicted first.
	DefaultAuditCapacity = 50
	// DefaultAuditTTL is how long the log survives without writes.
	DefaultAuditTTL = 24 * time.Hour
)

// auditKey is the key-value store key holding the bounded entry list.
const auditKey = "trigger_audit_log"

// AuditEntry records one handler invocation outcome. Params are the
// sanitized values, never the raw capture text.
type AuditEntry struct {
	ID          string            `json:"id"`
	TriggerID   string            `json:"trigger_id"`
	TriggerName string            `json:"trigger_name"`
	UserID      int64             `json:"user_id"`
	SessionID   string            `json:"session_id"`
	IPAddress   string            `json:"ip_address"`
	Timestamp   time.Time         `json:"timestamp"`
	Params      map[string]string `json:"params,omitempty"`
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
}

// AuditLog is an append-only, capacity-bounded record of executions
// stored in the shared key-value store. The whole log lives under one
// key: append reads the list, trims to capacity, and writes it back
// with a fresh TTL. Capacity rotation and TTL expiry are the only
// eviction paths.
type AuditLog struct {
	kv       kvstore.Store
	capacity int
	ttl      time.Duration
	logger   *slog.Logger
}

// NewAuditLog creates an audit log over kv. Zero capacity or TTL
// select the defaults.
func NewAuditLog(kv kvstore.Store, capacity int, ttl time.Duration, logger *slog.Logger) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	if ttl <= 0 {
		ttl = DefaultAuditTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{kv: kv, capacity: capacity, ttl: ttl, logger: logger}
}

// Append records an entry, evicting the oldest entries beyond
// capacity. A missing ID or timestamp is filled in.
func (a *AuditLog) Append(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			e.ID = id.String()
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var entries []AuditEntry
	if _, err := kvstore.GetJSON(ctx, a.kv, auditKey, &entries); err != nil {
		// A corrupt log is replaced rather than blocking new entries.
		a.logger.Warn("audit log unreadable, starting fresh", "error", err)
		entries = nil
	}

	entries = append(entries, e)
	if len(entries) > a.capacity {
		entries = entries[len(entries)-a.capacity:]
	}

	if err := kvstore.SetJSON(ctx, a.kv, auditKey, entries, a.ttl); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, most recent first. For display
// only.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	if _, err := kvstore.GetJSON(ctx, a.kv, auditKey, &entries); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	out := make([]AuditEntry, 0, limit)
	for i := len(entries) - 1; i >= len(entries)-limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}
