package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/notify"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

// publishNoticePattern matches [NOTIFY:channel:message]. The message
// group runs to the closing bracket.
var publishNoticePattern = regexp.MustCompile(`(?i)\[NOTIFY:([^:\]]+):([^\]]+)\]`)

// noticePayload is the JSON body published on the notice topic.
type noticePayload struct {
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishNotice publishes a notice message on a named channel through
// the notify publisher.
type PublishNotice struct {
	trigger.Definition
	pub    notify.Publisher
	logger *slog.Logger
}

// NewPublishNotice creates the publish_notice handler.
func NewPublishNotice(pub notify.Publisher, logger *slog.Logger) *PublishNotice {
	return &PublishNotice{
		Definition: trigger.Definition{
			TriggerID:   "publish_notice",
			TriggerName: "Publish notice",
			Desc:        "Publishes a notice message on a named channel.",
			Pattern:     publishNoticePattern,
			Params:      []string{"channel", "message"},
			Schema:      []trigger.SettingsField{trigger.EnabledField()},
		},
		pub:    pub,
		logger: logger,
	}
}

// CanExecute allows any actor; notices are broadcast data.
func (h *PublishNotice) CanExecute(trigger.Invocation) bool { return true }

// Execute publishes the notice as JSON.
func (h *PublishNotice) Execute(ctx context.Context, params map[string]string, inv trigger.Invocation) (*trigger.Result, error) {
	payload, err := json.Marshal(noticePayload{
		Message:   params["message"],
		SessionID: inv.SessionID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode notice: %w", err)
	}

	if err := h.pub.Publish(ctx, params["channel"], payload); err != nil {
		return nil, fmt.Errorf("publish notice on %q: %w", params["channel"], err)
	}

	h.logger.Info("notice published", "channel", params["channel"], "session_id", inv.SessionID)

	return &trigger.Result{
		Success: true,
		Message: fmt.Sprintf("notice published on %s", params["channel"]),
		Data:    map[string]any{"channel": params["channel"]},
	}, nil
}
