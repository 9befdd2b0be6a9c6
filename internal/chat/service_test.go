package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/content"
	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
	"github.com/MahfuzulAlam/smart-assistant/internal/llm"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

type fakeModel struct {
	reply    string
	err      error
	requests [][]llm.Message
}

func (f *fakeModel) Chat(_ context.Context, messages []llm.Message) (string, error) {
	f.requests = append(f.requests, messages)
	return f.reply, f.err
}

func (f *fakeModel) Ping(context.Context) error { return nil }

type fakeProvider struct {
	items []content.Item
	err   error
}

func (f *fakeProvider) Relevant(context.Context, string, int) ([]content.Item, error) {
	return f.items, f.err
}

type greetHandler struct {
	trigger.Definition
	calls int
}

func newGreetHandler() *greetHandler {
	return &greetHandler{Definition: trigger.Definition{
		TriggerID:   "greet",
		TriggerName: "Greet",
		Pattern:     regexp.MustCompile(`(?i)\[GREET:([^\]]+)\]`),
		Params:      []string{"subject"},
		Schema:      []trigger.SettingsField{trigger.EnabledField()},
	}}
}

func (h *greetHandler) CanExecute(trigger.Invocation) bool { return true }

func (h *greetHandler) Execute(_ context.Context, params map[string]string, _ trigger.Invocation) (*trigger.Result, error) {
	h.calls++
	return &trigger.Result{Success: true, Message: "greeted " + params["subject"]}, nil
}

func newTestService(t *testing.T, model llm.Client, provider content.Provider, opts Options, hs ...trigger.Handler) (*Service, kvstore.Store) {
	t.Helper()
	kv := kvstore.NewMemory()
	settings := trigger.NewSettingsStore(kv, nil)
	audit := trigger.NewAuditLog(kv, 50, time.Hour, nil)
	exec := trigger.NewExecutor(settings, audit, nil, nil, false)
	reg := trigger.NewRegistry(nil, nil)
	for _, h := range hs {
		if !reg.Register(h) {
			t.Fatalf("Register(%s) failed", h.ID())
		}
	}
	dispatch := trigger.NewDispatcher(reg, exec, nil, nil)
	limiter := trigger.NewRateLimiter(kv, nil, nil)
	return NewService(model, provider, dispatch, limiter, kv, nil, nil, opts), kv
}

func TestHandleRunsDirectivesAndStripsReply(t *testing.T) {
	model := &fakeModel{reply: "Sure! [GREET:world] All done."}
	h := newGreetHandler()
	svc, _ := newTestService(t, model, nil, Options{}, h)

	resp, err := svc.Handle(context.Background(), Request{
		Message: "please greet", SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	if resp.Reply != "Sure! All done." {
		t.Errorf("Reply = %q, want directives stripped", resp.Reply)
	}
	if len(resp.Triggers) != 1 || !resp.Triggers[0].Success {
		t.Errorf("Triggers = %+v, want one success", resp.Triggers)
	}
	if h.calls != 1 {
		t.Errorf("handler ran %d times, want 1", h.calls)
	}
	if !strings.Contains(resp.ReplyHTML, "Sure! All done.") {
		t.Errorf("ReplyHTML = %q", resp.ReplyHTML)
	}
}

func TestHandleValidatesInput(t *testing.T) {
	svc, _ := newTestService(t, &fakeModel{reply: "hi"}, nil, Options{})
	ctx := context.Background()

	if _, err := svc.Handle(ctx, Request{Message: "   ", SessionID: "s1"}); err == nil {
		t.Error("Handle() accepted a blank message")
	}
	if _, err := svc.Handle(ctx, Request{Message: "hello"}); err == nil {
		t.Error("Handle() accepted a missing session id")
	}
}

func TestHandleRateLimitsPerSession(t *testing.T) {
	model := &fakeModel{reply: "hi"}
	svc, _ := newTestService(t, model, nil, Options{RateWindow: time.Minute, RateMax: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Handle(ctx, Request{Message: "hello", SessionID: "s1"}); err != nil {
			t.Fatalf("Handle() %d error: %v", i+1, err)
		}
	}
	_, err := svc.Handle(ctx, Request{Message: "hello", SessionID: "s1"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Handle() error = %v, want ErrRateLimited", err)
	}

	// A different session is unaffected.
	if _, err := svc.Handle(ctx, Request{Message: "hello", SessionID: "s2"}); err != nil {
		t.Errorf("other session rejected: %v", err)
	}
}

func TestHandleBuildsPrompt(t *testing.T) {
	model := &fakeModel{reply: "answer"}
	provider := &fakeProvider{items: []content.Item{
		{Title: "Shipping policy", Content: "Orders ship in 2 days."},
	}}
	svc, _ := newTestService(t, model, provider, Options{Persona: "You are a helpful shop assistant."})

	if _, err := svc.Handle(context.Background(), Request{Message: "when does it ship?", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	messages := model.requests[0]
	if messages[0].Role != "system" {
		t.Fatalf("first message role = %q, want system", messages[0].Role)
	}
	sys := messages[0].Content
	if !strings.Contains(sys, "helpful shop assistant") {
		t.Error("system prompt missing persona")
	}
	if !strings.Contains(sys, "Shipping policy") || !strings.Contains(sys, "Orders ship in 2 days.") {
		t.Error("system prompt missing content items")
	}
	last := messages[len(messages)-1]
	if last.Role != "user" || last.Content != "when does it ship?" {
		t.Errorf("last message = %+v, want the user turn", last)
	}
}

func TestHandleCarriesHistoryAcrossTurns(t *testing.T) {
	model := &fakeModel{reply: "first answer [GREET:x]"}
	svc, _ := newTestService(t, model, nil, Options{}, newGreetHandler())
	ctx := context.Background()

	if _, err := svc.Handle(ctx, Request{Message: "first question", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	model.reply = "second answer"
	if _, err := svc.Handle(ctx, Request{Message: "second question", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	messages := model.requests[1]
	var roles []string
	var contents []string
	for _, m := range messages {
		roles = append(roles, m.Role)
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "\n")
	if !strings.Contains(joined, "first question") {
		t.Errorf("second turn missing prior user message; roles=%v", roles)
	}
	// The stored assistant turn is the stripped reply.
	if !strings.Contains(joined, "first answer") || strings.Contains(joined, "[GREET:") {
		t.Errorf("history carried raw directives: %q", joined)
	}
}

func TestHandleHistoryBounded(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	svc, kv := newTestService(t, model, nil, Options{HistoryLimit: 4})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Handle(ctx, Request{Message: "ping", SessionID: "s1"}); err != nil {
			t.Fatal(err)
		}
	}

	var history []trigger.HistoryMessage
	found, err := kvstore.GetJSON(ctx, kv, historyKey("s1"), &history)
	if err != nil || !found {
		t.Fatalf("history read: found=%v err=%v", found, err)
	}
	if len(history) != 4 {
		t.Errorf("history holds %d turns, want limit 4", len(history))
	}
}

func TestHandleModelErrorPropagates(t *testing.T) {
	model := &fakeModel{err: errors.New("upstream 500")}
	svc, _ := newTestService(t, model, nil, Options{})

	if _, err := svc.Handle(context.Background(), Request{Message: "hi", SessionID: "s1"}); err == nil {
		t.Error("Handle() swallowed the model error")
	}
}
