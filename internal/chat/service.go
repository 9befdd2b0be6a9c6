// Package chat implements the conversation service: it rate limits the
// caller, builds the model prompt from persona, site content, and
// session history, runs the model, dispatches any directives the model
// emitted, and returns the cleaned reply.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/MahfuzulAlam/smart-assistant/internal/content"
	"github.com/MahfuzulAlam/smart-assistant/internal/events"
	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
	"github.com/MahfuzulAlam/smart-assistant/internal/llm"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

// ErrRateLimited is returned when the session has exhausted its chat
// window. The API layer maps it to 429.
var ErrRateLimited = errors.New("rate limited")

// historyKeyPrefix namespaces per-session history in the key-value
// store.
const historyKeyPrefix = "chat_history:"

// Options tunes the service. Zero values select the defaults.
type Options struct {
	// Persona is the base system prompt.
	Persona string
	// ContextItems caps how many content items are added to the prompt.
	ContextItems int
	// HistoryLimit caps retained conversation turns per session.
	HistoryLimit int
	// HistoryTTL is how long idle session history survives.
	HistoryTTL time.Duration
	// RateWindow and RateMax bound requests per session.
	RateWindow time.Duration
	RateMax    int
}

func (o *Options) applyDefaults() {
	if o.ContextItems <= 0 {
		o.ContextItems = 5
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.HistoryTTL <= 0 {
		o.HistoryTTL = 30 * time.Minute
	}
	if o.RateWindow <= 0 {
		o.RateWindow = trigger.DefaultRateWindow
	}
	if o.RateMax <= 0 {
		o.RateMax = trigger.DefaultRateMax
	}
}

// Request is one inbound chat message with its actor identity.
type Request struct {
	Message   string
	SessionID string
	UserID    int64
	IPAddress string
	UserAgent string
}

// Response is the completed chat turn. Reply has all directives
// stripped; ReplyHTML is Reply rendered from markdown.
type Response struct {
	Reply     string                   `json:"reply"`
	ReplyHTML string                   `json:"replyHtml"`
	Triggers  []trigger.DispatchResult `json:"triggers"`
}

// Service runs chat turns. Safe for concurrent use.
type Service struct {
	model    llm.Client
	provider content.Provider
	dispatch *trigger.Dispatcher
	limiter  *trigger.RateLimiter
	kv       kvstore.Store
	logger   *slog.Logger
	bus      *events.Bus
	opts     Options
}

// NewService wires a chat service. provider may be nil to skip prompt
// context.
func NewService(model llm.Client, provider content.Provider, dispatch *trigger.Dispatcher,
	limiter *trigger.RateLimiter, kv kvstore.Store, logger *slog.Logger, bus *events.Bus, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Service{
		model:    model,
		provider: provider,
		dispatch: dispatch,
		limiter:  limiter,
		kv:       kv,
		logger:   logger,
		bus:      bus,
		opts:     opts,
	}
}

// Handle runs one chat turn end to end.
func (s *Service) Handle(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("empty message")
	}
	if req.SessionID == "" {
		return nil, errors.New("missing session id")
	}

	rateKey := trigger.RateKey("chat", req.SessionID)
	if !s.limiter.Allow(ctx, rateKey, s.opts.RateWindow, s.opts.RateMax) {
		return nil, ErrRateLimited
	}

	requestID := newRequestID()
	start := time.Now()
	s.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceChat,
		Kind:      events.KindChatRequest,
		Data: map[string]any{
			"request_id":  requestID,
			"session_id":  req.SessionID,
			"message_len": len(req.Message),
		},
	})

	history := s.loadHistory(ctx, req.SessionID)

	messages, err := s.buildMessages(ctx, req.Message, history)
	if err != nil {
		return nil, err
	}

	raw, err := s.model.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("model chat: %w", err)
	}

	inv := trigger.Invocation{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Timestamp: start,
		History:   history,
	}
	results := s.dispatch.ParseAndExecute(ctx, raw, inv)
	reply := s.dispatch.StripCommands(raw)

	html, err := renderHTML(reply)
	if err != nil {
		s.logger.Warn("reply markdown render failed", "request_id", requestID, "error", err)
		html = reply
	}

	s.saveHistory(ctx, req.SessionID, history, req.Message, reply)

	s.logger.Info("chat turn complete",
		"request_id", requestID,
		"session_id", req.SessionID,
		"triggers", len(results),
		"elapsed", time.Since(start).Truncate(time.Millisecond),
	)
	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceChat,
		Kind:      events.KindChatComplete,
		Data: map[string]any{
			"request_id": requestID,
			"session_id": req.SessionID,
			"triggers":   len(results),
			"elapsed_ms": time.Since(start).Milliseconds(),
		},
	})

	return &Response{Reply: reply, ReplyHTML: html, Triggers: results}, nil
}

// buildMessages assembles the prompt: system message (persona plus
// relevant content), prior turns, then the user's message.
func (s *Service) buildMessages(ctx context.Context, userMessage string, history []trigger.HistoryMessage) ([]llm.Message, error) {
	var sys strings.Builder
	if s.opts.Persona != "" {
		sys.WriteString(s.opts.Persona)
	}

	if s.provider != nil {
		items, err := s.provider.Relevant(ctx, userMessage, s.opts.ContextItems)
		if err != nil {
			// Missing context degrades the answer, it does not fail the turn.
			s.logger.Warn("content lookup failed", "error", err)
		}
		if len(items) > 0 {
			sys.WriteString("\n\nRelevant site content:\n")
			for _, it := range items {
				fmt.Fprintf(&sys, "\n## %s\n%s\n", it.Title, it.Content)
			}
		}
	}

	messages := make([]llm.Message, 0, len(history)+2)
	if sys.Len() > 0 {
		messages = append(messages, llm.Message{Role: "system", Content: sys.String()})
	}
	for _, h := range history {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})
	return messages, nil
}

func historyKey(sessionID string) string {
	return historyKeyPrefix + sessionID
}

// loadHistory returns the session's prior turns. Any read failure
// starts the session fresh.
func (s *Service) loadHistory(ctx context.Context, sessionID string) []trigger.HistoryMessage {
	var history []trigger.HistoryMessage
	if _, err := kvstore.GetJSON(ctx, s.kv, historyKey(sessionID), &history); err != nil {
		s.logger.Warn("history unreadable, starting fresh", "session_id", sessionID, "error", err)
		return nil
	}
	return history
}

// saveHistory appends the completed turn and writes the trimmed history
// back with a fresh idle TTL.
func (s *Service) saveHistory(ctx context.Context, sessionID string, history []trigger.HistoryMessage, userMessage, reply string) {
	history = append(history,
		trigger.HistoryMessage{Role: "user", Content: userMessage},
		trigger.HistoryMessage{Role: "assistant", Content: reply},
	)
	if len(history) > s.opts.HistoryLimit {
		history = history[len(history)-s.opts.HistoryLimit:]
	}
	if err := kvstore.SetJSON(ctx, s.kv, historyKey(sessionID), history, s.opts.HistoryTTL); err != nil {
		s.logger.Warn("history write failed", "session_id", sessionID, "error", err)
	}
}

func renderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
