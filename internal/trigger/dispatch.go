package trigger

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/events"
)

// whitespaceRE collapses runs of whitespace left behind by directive
// removal.
var whitespaceRE = regexp.MustCompile(`\s+`)

// Dispatcher scans model output for directive occurrences, resolves
// them to handlers, and executes them through the safety wrapper.
type Dispatcher struct {
	registry *Registry
	exec     *Executor
	logger   *slog.Logger
	bus      *events.Bus
}

// NewDispatcher creates a dispatcher over the registry and executor.
func NewDispatcher(registry *Registry, exec *Executor, logger *slog.Logger, bus *events.Bus) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		exec:     exec,
		logger:   logger,
		bus:      bus,
	}
}

// ParseAndExecute finds every directive occurrence in text and executes
// each through the safety wrapper, returning one DispatchResult per
// occurrence. No failure mode aborts the batch: a bad occurrence
// yields a failure result and the scan continues.
//
// Results are grouped by handler in registry order, and within a
// handler in text-appearance order. When multiple distinct handlers
// match one text, the combined list is therefore not globally ordered
// by match position. Sort by offset here if that ever becomes a
// product requirement.
func (d *Dispatcher) ParseAndExecute(ctx context.Context, text string, inv Invocation) []DispatchResult {
	results := []DispatchResult{}

	for _, h := range d.registry.All() {
		pattern := h.CommandPattern()
		required := h.RequiredParams()

		matches := pattern.FindAllStringSubmatch(text, -1)
		if matches == nil {
			continue
		}

		d.logger.Debug("directive matched",
			"trigger_id", h.ID(),
			"occurrences", len(matches),
			"session_id", inv.SessionID,
		)

		for _, m := range matches {
			d.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceDispatch,
				Kind:      events.KindTriggerMatched,
				Data:      map[string]any{"trigger_id": h.ID(), "session_id": inv.SessionID},
			})

			// Map capturing groups positionally onto required params.
			raw := make(map[string]string, len(required))
			for i, name := range required {
				if i+1 < len(m) {
					raw[name] = m[i+1]
				}
			}

			result := d.exec.SafeExecute(ctx, h, raw, inv)
			results = append(results, DispatchResult{
				TriggerID:   h.ID(),
				TriggerName: h.Name(),
				Result:      *result,
			})
		}
	}

	return results
}

// StripCommands removes every registered directive pattern from text,
// collapses whitespace runs to single spaces, and trims. It works from
// the original patterns alone, so it is safe to call whether or not
// ParseAndExecute ran, and it is idempotent.
func (d *Dispatcher) StripCommands(text string) string {
	for _, h := range d.registry.All() {
		text = h.CommandPattern().ReplaceAllString(text, "")
	}
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}
