// Package content supplies site content to the rest of the assistant:
// prompt context items for the chat service and post lookups for
// trigger handlers.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrPostNotFound is returned when a post lookup finds nothing.
var ErrPostNotFound = errors.New("post not found")

// Item is one unit of prompt context: a titled block of text included
// in the model's system prompt.
type Item struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Post is a published article with its author.
type Post struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	AuthorID    int64     `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	CreatedAt   time.Time `json:"created_at"`
}

// Provider returns content items relevant to a query, for building the
// model prompt.
type Provider interface {
	Relevant(ctx context.Context, query string, limit int) ([]Item, error)
}

// PostFinder resolves a post by ID. Handlers that act on a post (for
// example, emailing its author) depend on this narrow interface.
type PostFinder interface {
	FindPost(ctx context.Context, id int64) (*Post, error)
}
