// Package trigger implements the directive dispatch engine: a registry
// of pluggable command handlers, a parser that extracts bracket
// directives from untrusted model output, and a uniform
// authorize/validate/execute pipeline with rate limiting and a bounded
// audit trail.
//
// Directive syntax is [TAG:arg1:arg2:...:argN] — case-insensitive tag,
// colon-separated positional arguments, terminated by a closing
// bracket. All arguments but the last may not contain ':' or ']'; the
// last may contain ':' but not ']'.
package trigger

import (
	"context"
	"regexp"
	"time"
)

// Handler is the capability every directive type implements. Handlers
// must be safe for concurrent use: one handler instance serves all
// in-flight requests.
type Handler interface {
	// ID is the unique key for this handler within a registry.
	ID() string
	// Name is the human-readable handler name.
	Name() string
	// Description explains what the directive does.
	Description() string

	// CommandPattern returns the compiled directive pattern. It must be
	// case-insensitive and carry exactly one capturing group per
	// required parameter, in order.
	CommandPattern() *regexp.Regexp
	// RequiredParams lists parameter names, positionally aligned with
	// the pattern's capturing groups.
	RequiredParams() []string

	// CanExecute is the authorization predicate. It must not have side
	// effects.
	CanExecute(inv Invocation) bool

	// Execute performs the side-effecting action. A nil error with a
	// Success=false result reports a recoverable failure (e.g., a
	// missing post); a non-nil error reports an unexpected fault.
	Execute(ctx context.Context, params map[string]string, inv Invocation) (*Result, error)

	// SettingsSchema declares the handler's configurable options. Every
	// handler carries at least an "enabled" toggle.
	SettingsSchema() []SettingsField
}

// SettingsField describes one configurable option in a handler's
// settings schema, used by the admin surface to render configuration.
type SettingsField struct {
	Name    string `json:"name"`
	Type    string `json:"type"` // "bool", "string", "int"
	Label   string `json:"label"`
	Default any    `json:"default"`
}

// EnabledField is the settings field every handler carries.
func EnabledField() SettingsField {
	return SettingsField{Name: "enabled", Type: "bool", Label: "Enabled", Default: true}
}

// Invocation is the request-scoped execution context passed by value to
// every handler invocation. Handlers must not mutate it.
type Invocation struct {
	// UserID identifies the authenticated actor; 0 means anonymous.
	UserID    int64     `json:"user_id"`
	SessionID string    `json:"session_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
	// History is the conversation leading up to the directive.
	History []HistoryMessage `json:"history,omitempty"`
}

// HistoryMessage is one turn of conversation history.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is the outcome of one handler invocation. After passing
// through SafeExecute all three fields are always populated.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Failure builds a failed Result with an empty data map.
func Failure(message string) *Result {
	return &Result{Success: false, Message: message, Data: map[string]any{}}
}

// DispatchResult is one Result tagged with the handler that produced
// it, emitted per matched directive occurrence.
type DispatchResult struct {
	TriggerID   string `json:"triggerId"`
	TriggerName string `json:"triggerName"`
	Result
}

// Definition is the static description of one directive type. Handlers
// embed it to satisfy the metadata half of the Handler interface; the
// behavioral half (CanExecute, Execute) stays per-implementation.
// Immutable once constructed.
type Definition struct {
	TriggerID   string
	TriggerName string
	Desc        string
	Pattern     *regexp.Regexp
	Params      []string
	Schema      []SettingsField
}

// ID implements Handler.
func (d Definition) ID() string { return d.TriggerID }

// Name implements Handler.
func (d Definition) Name() string { return d.TriggerName }

// Description implements Handler.
func (d Definition) Description() string { return d.Desc }

// CommandPattern implements Handler.
func (d Definition) CommandPattern() *regexp.Regexp { return d.Pattern }

// RequiredParams implements Handler.
func (d Definition) RequiredParams() []string { return d.Params }

// SettingsSchema implements Handler.
func (d Definition) SettingsSchema() []SettingsField { return d.Schema }

// Valid reports whether the definition is internally consistent: a
// non-empty ID, a compiled pattern, and one capturing group per
// required parameter.
func (d Definition) Valid() bool {
	if d.TriggerID == "" || d.Pattern == nil {
		return false
	}
	return d.Pattern.NumSubexp() == len(d.Params)
}
