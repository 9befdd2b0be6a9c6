package handlers

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/content"
	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
	"github.com/MahfuzulAlam/smart-assistant/internal/orders"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

type fakePosts struct {
	posts map[int64]*content.Post
}

func (f *fakePosts) FindPost(_ context.Context, id int64) (*content.Post, error) {
	p, ok := f.posts[id]
	if !ok {
		return nil, content.ErrPostNotFound
	}
	return p, nil
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to []string, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type fakeOrders struct {
	orders map[int64]*orders.Order
}

func (f *fakeOrders) FindOrder(_ context.Context, id int64) (*orders.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	published []published
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{channel: channel, payload: payload})
	return nil
}

// newDispatcher wires a full engine over in-memory stores with the
// given handlers registered.
func newDispatcher(t *testing.T, hs ...trigger.Handler) *trigger.Dispatcher {
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
	return trigger.NewDispatcher(reg, exec, nil, nil)
}

func TestInstall(t *testing.T) {
	logger := slog.Default()

	tests := []struct {
		name string
		deps Deps
		want int
	}{
		{"all deps", Deps{
			Posts:  &fakePosts{},
			Orders: &fakeOrders{},
			Email:  &fakeSender{},
			Notify: &fakePublisher{},
			Logger: logger,
		}, 3},
		{"no mail sender skips email handler", Deps{
			Posts:  &fakePosts{},
			Orders: &fakeOrders{},
			Logger: logger,
		}, 1},
		{"nothing", Deps{Logger: logger}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := trigger.NewRegistry(nil, nil)
			if got := Install(reg, tc.deps); got != tc.want {
				t.Errorf("Install() = %d, want %d", got, tc.want)
			}
			if reg.Count() != tc.want {
				t.Errorf("Count() = %d, want %d", reg.Count(), tc.want)
			}
		})
	}
}

func TestEmailAuthorEndToEnd(t *testing.T) {
	posts := &fakePosts{posts: map[int64]*content.Post{
		5: {ID: 5, Title: "Going concurrent", AuthorID: 9, AuthorName: "Sam", AuthorEmail: "sam@example.com"},
	}}
	sender := &fakeSender{}
	d := newDispatcher(t, NewEmailAuthor(posts, sender, slog.Default()))

	text := "Sure! [EMAIL_AUTHOR:5:Hello:Please respond]"
	results := d.ParseAndExecute(context.Background(), text, trigger.Invocation{SessionID: "s1"})

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if !r.Success {
		t.Fatalf("result failed: %s", r.Message)
	}
	if r.TriggerID != "email_post_author" {
		t.Errorf("TriggerID = %q", r.TriggerID)
	}
	if r.Data["authorId"] != int64(9) {
		t.Errorf("Data[authorId] = %v, want 9", r.Data["authorId"])
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(sender.sent))
	}
	m := sender.sent[0]
	if m.to[0] != "sam@example.com" || m.subject != "Hello" {
		t.Errorf("mail = to %v subject %q", m.to, m.subject)
	}

	if got := d.StripCommands(text); got != "Sure!" {
		t.Errorf("StripCommands() = %q, want %q", got, "Sure!")
	}
}

func TestEmailAuthorPostNotFound(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, NewEmailAuthor(&fakePosts{}, sender, slog.Default()))

	results := d.ParseAndExecute(context.Background(),
		"[EMAIL_AUTHOR:42:Hi:There]", trigger.Invocation{})

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Success {
		t.Error("missing post reported success")
	}
	if results[0].Message != "post 42 not found" {
		t.Errorf("Message = %q, want %q", results[0].Message, "post 42 not found")
	}
	if len(sender.sent) != 0 {
		t.Error("mail sent for missing post")
	}
}

func TestEmailAuthorMessageKeepsColons(t *testing.T) {
	posts := &fakePosts{posts: map[int64]*content.Post{
		1: {ID: 1, Title: "T", AuthorName: "A", AuthorEmail: "a@example.com"},
	}}
	sender := &fakeSender{}
	d := newDispatcher(t, NewEmailAuthor(posts, sender, slog.Default()))

	results := d.ParseAndExecute(context.Background(),
		"[EMAIL_AUTHOR:1:Question:See section 2: the part about maps]", trigger.Invocation{})

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}
	if len(sender.sent) != 1 {
		t.Fatal("no mail sent")
	}
	wantFragment := "See section 2: the part about maps"
	if body := sender.sent[0].body; !strings.Contains(body, wantFragment) {
		t.Errorf("mail body %q does not contain %q", body, wantFragment)
	}
}

func TestOrderStatusRequiresUser(t *testing.T) {
	finder := &fakeOrders{orders: map[int64]*orders.Order{
		7: {ID: 7, UserID: 3, Status: "shipped", Total: "49.00"},
	}}
	d := newDispatcher(t, NewOrderStatus(finder, slog.Default()))
	ctx := context.Background()

	// Anonymous invocation is denied before the handler runs.
	results := d.ParseAndExecute(ctx, "[ORDER_STATUS:7]", trigger.Invocation{SessionID: "anon"})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Success || results[0].Message != "permission denied" {
		t.Errorf("anonymous result = (%v, %q), want denial", results[0].Success, results[0].Message)
	}

	// The owner sees their order.
	results = d.ParseAndExecute(ctx, "[ORDER_STATUS:7]", trigger.Invocation{UserID: 3})
	if !results[0].Success || results[0].Data["status"] != "shipped" {
		t.Errorf("owner result = %+v", results[0])
	}

	// Another user sees not-found, not the owner's data.
	results = d.ParseAndExecute(ctx, "[ORDER_STATUS:7]", trigger.Invocation{UserID: 4})
	if results[0].Success {
		t.Error("foreign user read another user's order")
	}
	if results[0].Message != "order 7 not found" {
		t.Errorf("Message = %q, want not-found", results[0].Message)
	}
}

func TestPublishNotice(t *testing.T) {
	pub := &fakePublisher{}
	d := newDispatcher(t, NewPublishNotice(pub, slog.Default()))

	results := d.ParseAndExecute(context.Background(),
		"[NOTIFY:deploys:Rollout finished]", trigger.Invocation{SessionID: "s1"})

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d notices, want 1", len(pub.published))
	}
	p := pub.published[0]
	if p.channel != "deploys" {
		t.Errorf("channel = %q", p.channel)
	}
	if !strings.Contains(string(p.payload), "Rollout finished") {
		t.Errorf("payload %q missing message", p.payload)
	}
	if !strings.Contains(string(p.payload), `"session_id":"s1"`) {
		t.Errorf("payload %q missing session", p.payload)
	}
}
