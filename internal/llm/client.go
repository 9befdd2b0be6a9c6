// Package llm provides the model-calling client used by the chat
// service. The dispatch engine itself never talks to a model; it only
// consumes generated text.
package llm

import "context"

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the interface the chat service depends on. Implementations
// take a message list and return generated text or an error.
type Client interface {
	// Chat sends a chat completion request and returns the assistant text.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
