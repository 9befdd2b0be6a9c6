package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/events"
)

// Executor applies the uniform safety pipeline around every handler
// invocation: enabled check, authorization, validation, sanitization,
// execution with fault recovery, result normalization, and audit
// logging. Handlers never bypass it — the dispatcher only calls
// handlers through SafeExecute.
type Executor struct {
	settings *SettingsStore
	audit    *AuditLog
	logger   *slog.Logger
	bus      *events.Bus

	// verbose exposes internal error detail in failure results. Wire it
	// to the debug log level; never enable it for untrusted callers in
	// production.
	verbose bool
}

// NewExecutor creates an executor over the given collaborators.
func NewExecutor(settings *SettingsStore, audit *AuditLog, logger *slog.Logger, bus *events.Bus, verbose bool) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		settings: settings,
		audit:    audit,
		logger:   logger,
		bus:      bus,
		verbose:  verbose,
	}
}

// SafeExecute runs one handler invocation through the full pipeline.
// It never returns nil and never propagates a fault: every failure
// mode is converted into a populated failure Result.
func (e *Executor) SafeExecute(ctx context.Context, h Handler, raw map[string]string, inv Invocation) *Result {
	// Disabled handlers short-circuit before any other work. This gets
	// a lightweight log line, not an audit entry.
	if !e.settings.Enabled(ctx, h) {
		e.logger.Debug("trigger disabled, skipping", "trigger_id", h.ID())
		e.publish(events.KindTriggerDisabled, h, inv, nil)
		return Failure(fmt.Sprintf("%s is disabled", h.Name()))
	}

	// Authorization. Denials are audited so operators can spot probing.
	if !h.CanExecute(inv) {
		e.logger.Warn("trigger permission denied",
			"trigger_id", h.ID(),
			"user_id", inv.UserID,
			"session_id", inv.SessionID,
		)
		e.publish(events.KindTriggerDenied, h, inv, map[string]any{"user_id": inv.UserID})
		e.appendAudit(ctx, h, inv, nil, false, "permission denied")
		return Failure("permission denied")
	}

	// Validation: every required parameter present and non-empty.
	if missing, ok := validateParams(h.RequiredParams(), raw); !ok {
		e.logger.Debug("trigger parameter missing",
			"trigger_id", h.ID(), "param", missing)
		result := Failure(fmt.Sprintf("%s is missing", missing))
		e.appendAudit(ctx, h, inv, nil, false, result.Message)
		return result
	}

	params := sanitizeParams(raw)

	start := time.Now()
	result, err := e.execute(ctx, h, params, inv)
	elapsed := time.Since(start)

	if err != nil {
		// Unexpected fault: full detail goes to the log, a generic
		// message to the caller unless verbose mode is on.
		e.logger.Error("trigger execution failed",
			"trigger_id", h.ID(),
			"session_id", inv.SessionID,
			"elapsed", elapsed.Truncate(time.Millisecond),
			"error", err,
		)
		result = Failure("an error occurred")
		if e.verbose {
			result.Data["error"] = err.Error()
		}
	} else {
		result = normalize(result)
	}

	e.publish(events.KindTriggerExecuted, h, inv, map[string]any{
		"success":     result.Success,
		"duration_ms": elapsed.Milliseconds(),
	})
	e.appendAudit(ctx, h, inv, params, result.Success, result.Message)

	return result
}

// execute invokes the handler, converting a panic into an error so a
// misbehaving plugin cannot take down the request.
func (e *Executor) execute(ctx context.Context, h Handler, params map[string]string, inv Invocation) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, params, inv)
}

// normalize fills in whatever the handler's result omitted: a nil
// result with a nil error counts as plain success, an empty message
// gets a generic one, and Data is never nil.
func normalize(r *Result) *Result {
	if r == nil {
		r = &Result{Success: true}
	}
	if r.Message == "" {
		if r.Success {
			r.Message = "command executed successfully"
		} else {
			r.Message = "command failed"
		}
	}
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	return r
}

func (e *Executor) appendAudit(ctx context.Context, h Handler, inv Invocation, params map[string]string, success bool, message string) {
	if e.audit == nil {
		return
	}
	err := e.audit.Append(ctx, AuditEntry{
		TriggerID:   h.ID(),
		TriggerName: h.Name(),
		UserID:      inv.UserID,
		SessionID:   inv.SessionID,
		IPAddress:   inv.IPAddress,
		Timestamp:   time.Now(),
		Params:      params,
		Success:     success,
		Message:     message,
	})
	if err != nil {
		e.logger.Warn("audit append failed", "trigger_id", h.ID(), "error", err)
	}
}

func (e *Executor) publish(kind string, h Handler, inv Invocation, extra map[string]any) {
	data := map[string]any{
		"trigger_id": h.ID(),
		"session_id": inv.SessionID,
	}
	for k, v := range extra {
		data[k] = v
	}
	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceDispatch,
		Kind:      kind,
		Data:      data,
	})
}
