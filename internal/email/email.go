// Package email delivers outbound mail for trigger handlers. Messages
// are composed as multipart/alternative MIME (markdown body rendered to
// both text/plain and text/html) and delivered over SMTP.
package email

import "context"

// Sender is the narrow interface handlers depend on. The production
// implementation is SMTPSender; tests substitute a recorder.
type Sender interface {
	// Send composes and delivers a message. body is markdown.
	Send(ctx context.Context, to []string, subject, body string) error
}
