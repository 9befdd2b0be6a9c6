package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
)

// settingsKeyPrefix namespaces per-handler settings in the key-value
// store.
const settingsKeyPrefix = "trigger_settings:"

// SettingsStore persists per-handler configuration (including the
// enabled toggle) in the shared key-value store, applying
// schema-defined defaults for missing fields on read.
type SettingsStore struct {
	kv     kvstore.Store
	logger *slog.Logger
}

// NewSettingsStore creates a settings store over kv.
func NewSettingsStore(kv kvstore.Store, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{kv: kv, logger: logger}
}

func settingsKey(handlerID string) string {
	return settingsKeyPrefix + handlerID
}

// Get returns the handler's settings with schema defaults applied for
// any missing field. A read failure degrades to pure defaults — a
// broken store must not take the dispatch path down.
func (s *SettingsStore) Get(ctx context.Context, h Handler) map[string]any {
	settings := make(map[string]any)

	var stored map[string]any
	found, err := kvstore.GetJSON(ctx, s.kv, settingsKey(h.ID()), &stored)
	if err != nil {
		s.logger.Warn("reading trigger settings failed, using defaults",
			"trigger_id", h.ID(), "error", err)
	}

	for _, f := range h.SettingsSchema() {
		if found {
			if v, ok := stored[f.Name]; ok {
				settings[f.Name] = v
				continue
			}
		}
		settings[f.Name] = f.Default
	}
	return settings
}

// Set replaces the handler's stored settings. Settings never expire.
func (s *SettingsStore) Set(ctx context.Context, handlerID string, settings map[string]any) error {
	if err := kvstore.SetJSON(ctx, s.kv, settingsKey(handlerID), settings, 0); err != nil {
		return fmt.Errorf("store settings for %s: %w", handlerID, err)
	}
	return nil
}

// Enabled reports whether the handler's enabled toggle is on. Handlers
// without an explicit stored value fall back to the schema default.
func (s *SettingsStore) Enabled(ctx context.Context, h Handler) bool {
	settings := s.Get(ctx, h)
	switch v := settings["enabled"].(type) {
	case bool:
		return v
	default:
		// Schema omitted the toggle entirely; treat as enabled.
		return true
	}
}
