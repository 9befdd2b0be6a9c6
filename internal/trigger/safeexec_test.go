package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
)

func newTestExecutor(t *testing.T, verbose bool) (*Executor, *SettingsStore, *AuditLog) {
	t.Helper()
	kv := kvstore.NewMemory()
	settings := NewSettingsStore(kv, nil)
	audit := NewAuditLog(kv, 10, time.Hour, nil)
	return NewExecutor(settings, audit, nil, nil, verbose), settings, audit
}

func auditCount(t *testing.T, audit *AuditLog) int {
	t.Helper()
	entries, err := audit.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	return len(entries)
}

func TestSafeExecuteDisabledShortCircuits(t *testing.T) {
	ctx := context.Background()
	exec, settings, audit := newTestExecutor(t, false)

	h := newTestHandler("greet", "GREET")
	if err := settings.Set(ctx, h.ID(), map[string]any{"enabled": false}); err != nil {
		t.Fatal(err)
	}

	result := exec.SafeExecute(ctx, h, map[string]string{"subject": "world"}, Invocation{SessionID: "s1"})

	if result.Success {
		t.Error("disabled handler reported success")
	}
	if result.Message != "greet handler is disabled" {
		t.Errorf("Message = %q, want %q", result.Message, "greet handler is disabled")
	}
	if h.calls.Load() != 0 {
		t.Errorf("disabled handler executed %d times, want 0", h.calls.Load())
	}
	// Disabled short-circuits produce no audit entry.
	if n := auditCount(t, audit); n != 0 {
		t.Errorf("audit log has %d entries for disabled handler, want 0", n)
	}
}

func TestSafeExecuteDenied(t *testing.T) {
	ctx := context.Background()
	exec, _, audit := newTestExecutor(t, false)

	h := newTestHandler("orders", "ORDERS")
	h.canExecute = func(inv Invocation) bool { return inv.UserID != 0 }

	result := exec.SafeExecute(ctx, h, map[string]string{"subject": "x"}, Invocation{SessionID: "anon"})

	if result.Success {
		t.Error("denied invocation reported success")
	}
	if result.Message != "permission denied" {
		t.Errorf("Message = %q, want %q", result.Message, "permission denied")
	}
	if h.calls.Load() != 0 {
		t.Error("handler executed despite denial")
	}

	entries, err := audit.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit log has %d entries, want 1", len(entries))
	}
	if entries[0].Success || entries[0].Message != "permission denied" {
		t.Errorf("audit entry = (%v, %q), want (false, permission denied)",
			entries[0].Success, entries[0].Message)
	}
}

func TestSafeExecuteMissingParam(t *testing.T) {
	ctx := context.Background()
	exec, _, audit := newTestExecutor(t, false)

	h := newTestHandler("greet", "GREET")

	result := exec.SafeExecute(ctx, h, map[string]string{}, Invocation{SessionID: "s1"})

	if result.Success {
		t.Error("missing-param invocation reported success")
	}
	if result.Message != "subject is missing" {
		t.Errorf("Message = %q, want %q", result.Message, "subject is missing")
	}
	if h.calls.Load() != 0 {
		t.Error("handler executed with missing param")
	}
	if n := auditCount(t, audit); n != 1 {
		t.Errorf("audit log has %d entries, want 1", n)
	}
}

func TestSafeExecuteErrorMessageGating(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("database on fire")

	t.Run("terse by default", func(t *testing.T) {
		exec, _, _ := newTestExecutor(t, false)
		h := newTestHandler("greet", "GREET")
		h.execute = func(context.Context, map[string]string, Invocation) (*Result, error) {
			return nil, boom
		}

		result := exec.SafeExecute(ctx, h, map[string]string{"subject": "x"}, Invocation{})
		if result.Message != "an error occurred" {
			t.Errorf("Message = %q, want generic", result.Message)
		}
		if _, leaked := result.Data["error"]; leaked {
			t.Error("error detail leaked without verbose mode")
		}
	})

	t.Run("detailed when verbose", func(t *testing.T) {
		exec, _, _ := newTestExecutor(t, true)
		h := newTestHandler("greet", "GREET")
		h.execute = func(context.Context, map[string]string, Invocation) (*Result, error) {
			return nil, boom
		}

		result := exec.SafeExecute(ctx, h, map[string]string{"subject": "x"}, Invocation{})
		if result.Message != "an error occurred" {
			t.Errorf("Message = %q, want generic even in verbose mode", result.Message)
		}
		if result.Data["error"] != boom.Error() {
			t.Errorf("Data[error] = %v, want %q", result.Data["error"], boom.Error())
		}
	})
}

func TestSafeExecuteRecoversPanic(t *testing.T) {
	ctx := context.Background()
	exec, _, audit := newTestExecutor(t, false)

	h := newTestHandler("greet", "GREET")
	h.execute = func(context.Context, map[string]string, Invocation) (*Result, error) {
		panic("unexpected nil")
	}

	result := exec.SafeExecute(ctx, h, map[string]string{"subject": "x"}, Invocation{SessionID: "s1"})

	if result.Success {
		t.Error("panicking handler reported success")
	}
	if result.Message != "an error occurred" {
		t.Errorf("Message = %q, want generic", result.Message)
	}
	// The fault is still audited.
	if n := auditCount(t, audit); n != 1 {
		t.Errorf("audit log has %d entries, want 1", n)
	}
}

func TestSafeExecuteNormalizesResult(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		execute     func(context.Context, map[string]string, Invocation) (*Result, error)
		wantSuccess bool
		wantMessage string
	}{
		{
			name: "nil result means success",
			execute: func(context.Context, map[string]string, Invocation) (*Result, error) {
				return nil, nil
			},
			wantSuccess: true,
			wantMessage: "command executed successfully",
		},
		{
			name: "empty success message filled",
			execute: func(context.Context, map[string]string, Invocation) (*Result, error) {
				return &Result{Success: true}, nil
			},
			wantSuccess: true,
			wantMessage: "command executed successfully",
		},
		{
			name: "empty failure message filled",
			execute: func(context.Context, map[string]string, Invocation) (*Result, error) {
				return &Result{Success: false}, nil
			},
			wantSuccess: false,
			wantMessage: "command failed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec, _, _ := newTestExecutor(t, false)
			h := newTestHandler("greet", "GREET")
			h.execute = tc.execute

			result := exec.SafeExecute(ctx, h, map[string]string{"subject": "x"}, Invocation{})
			if result.Success != tc.wantSuccess {
				t.Errorf("Success = %v, want %v", result.Success, tc.wantSuccess)
			}
			if result.Message != tc.wantMessage {
				t.Errorf("Message = %q, want %q", result.Message, tc.wantMessage)
			}
			if result.Data == nil {
				t.Error("Data = nil, want non-nil map")
			}
		})
	}
}

func TestSafeExecutePassesSanitizedParams(t *testing.T) {
	ctx := context.Background()
	exec, _, audit := newTestExecutor(t, false)

	h := newTestHandler("lookup", "LOOKUP")
	h.Params = []string{"post_id"}
	var seen map[string]string
	h.execute = func(_ context.Context, params map[string]string, _ Invocation) (*Result, error) {
		seen = params
		return &Result{Success: true, Message: "found"}, nil
	}

	exec.SafeExecute(ctx, h, map[string]string{"post_id": "007abc"}, Invocation{SessionID: "s1"})

	if seen["post_id"] != "7" {
		t.Errorf("handler saw post_id = %q, want sanitized %q", seen["post_id"], "7")
	}

	entries, _ := audit.Recent(ctx, 1)
	if len(entries) != 1 || entries[0].Params["post_id"] != "7" {
		t.Error("audit entry did not record the sanitized params")
	}
}
