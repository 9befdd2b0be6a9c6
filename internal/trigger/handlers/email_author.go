package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/MahfuzulAlam/smart-assistant/internal/content"
	"github.com/MahfuzulAlam/smart-assistant/internal/email"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

// emailAuthorPattern matches [EMAIL_AUTHOR:post_id:subject:message].
// The message group runs to the closing bracket so it may contain
// colons.
var emailAuthorPattern = regexp.MustCompile(`(?i)\[EMAIL_AUTHOR:([^:\]]+):([^:\]]+):([^\]]+)\]`)

// EmailAuthor sends an email to the author of a published post on the
// model's behalf.
type EmailAuthor struct {
	trigger.Definition
	posts  content.PostFinder
	sender email.Sender
	logger *slog.Logger
}

// NewEmailAuthor creates the email_post_author handler.
func NewEmailAuthor(posts content.PostFinder, sender email.Sender, logger *slog.Logger) *EmailAuthor {
	return &EmailAuthor{
		Definition: trigger.Definition{
			TriggerID:   "email_post_author",
			TriggerName: "Email post author",
			Desc:        "Sends an email to the author of a post.",
			Pattern:     emailAuthorPattern,
			Params:      []string{"post_id", "subject", "message"},
			Schema:      []trigger.SettingsField{trigger.EnabledField()},
		},
		posts:  posts,
		sender: sender,
		logger: logger,
	}
}

// CanExecute allows any actor: the post's visibility, not the caller's
// identity, gates this action.
func (h *EmailAuthor) CanExecute(trigger.Invocation) bool { return true }

// Execute resolves the post and mails its author. A missing post is a
// recoverable failure, not a fault.
func (h *EmailAuthor) Execute(ctx context.Context, params map[string]string, inv trigger.Invocation) (*trigger.Result, error) {
	id, err := strconv.ParseInt(params["post_id"], 10, 64)
	if err != nil {
		return trigger.Failure(fmt.Sprintf("invalid post id %q", params["post_id"])), nil
	}

	post, err := h.posts.FindPost(ctx, id)
	if errors.Is(err, content.ErrPostNotFound) {
		return trigger.Failure(fmt.Sprintf("post %d not found", id)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post %d: %w", id, err)
	}
	if post.AuthorEmail == "" {
		return trigger.Failure(fmt.Sprintf("post %d has no author email", id)), nil
	}

	body := fmt.Sprintf("Hi %s,\n\n%s\n\n(Regarding your post: %s)",
		post.AuthorName, params["message"], post.Title)

	if err := h.sender.Send(ctx, []string{post.AuthorEmail}, params["subject"], body); err != nil {
		return nil, fmt.Errorf("send mail to author of post %d: %w", id, err)
	}

	h.logger.Info("emailed post author",
		"post_id", post.ID,
		"author_id", post.AuthorID,
		"session_id", inv.SessionID,
	)

	return &trigger.Result{
		Success: true,
		Message: fmt.Sprintf("email sent to the author of %q", post.Title),
		Data:    map[string]any{"authorId": post.AuthorID},
	}, nil
}
