// Package handlers provides the built-in directive handlers: emailing a
// post's author, looking up order status, and publishing notices over
// MQTT. Each handler embeds trigger.Definition for its metadata and
// keeps its collaborators behind the narrow interfaces it actually
// needs.
package handlers

import (
	"log/slog"

	"github.com/MahfuzulAlam/smart-assistant/internal/content"
	"github.com/MahfuzulAlam/smart-assistant/internal/email"
	"github.com/MahfuzulAlam/smart-assistant/internal/notify"
	"github.com/MahfuzulAlam/smart-assistant/internal/orders"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

// Deps carries the collaborators the built-in handlers need. A nil
// field skips the handlers that depend on it.
type Deps struct {
	Posts  content.PostFinder
	Orders orders.Finder
	Email  email.Sender
	Notify notify.Publisher
	Logger *slog.Logger
}

// Install registers every built-in handler whose dependencies are
// present. It returns the number of handlers registered.
func Install(reg *trigger.Registry, deps Deps) int {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := 0
	if deps.Posts != nil && deps.Email != nil {
		if reg.Register(NewEmailAuthor(deps.Posts, deps.Email, logger)) {
			n++
		}
	}
	if deps.Orders != nil {
		if reg.Register(NewOrderStatus(deps.Orders, logger)) {
			n++
		}
	}
	if deps.Notify != nil {
		if reg.Register(NewPublishNotice(deps.Notify, logger)) {
			n++
		}
	}
	return n
}
