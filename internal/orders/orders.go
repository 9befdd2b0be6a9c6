// Package orders stores customer orders and resolves them for the
// order-status directive.
package orders

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an order lookup finds nothing.
var ErrNotFound = errors.New("order not found")

// Order is one customer order.
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	Total     string    `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finder resolves an order by ID.
type Finder interface {
	FindOrder(ctx context.Context, id int64) (*Order, error)
}
