package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/MahfuzulAlam/smart-assistant/internal/orders"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

// orderStatusPattern matches [ORDER_STATUS:order_id].
var orderStatusPattern = regexp.MustCompile(`(?i)\[ORDER_STATUS:([^\]]+)\]`)

// OrderStatus reports the status of an order belonging to the asking
// user.
type OrderStatus struct {
	trigger.Definition
	orders orders.Finder
	logger *slog.Logger
}

// NewOrderStatus creates the order_status handler.
func NewOrderStatus(finder orders.Finder, logger *slog.Logger) *OrderStatus {
	return &OrderStatus{
		Definition: trigger.Definition{
			TriggerID:   "order_status",
			TriggerName: "Order status",
			Desc:        "Looks up the status of one of the user's orders.",
			Pattern:     orderStatusPattern,
			Params:      []string{"order_id"},
			Schema:      []trigger.SettingsField{trigger.EnabledField()},
		},
		orders: finder,
		logger: logger,
	}
}

// CanExecute requires an authenticated user: order data is private.
func (h *OrderStatus) CanExecute(inv trigger.Invocation) bool {
	return inv.UserID != 0
}

// Execute looks up the order and reports its status. Orders belonging
// to other users read as not found rather than hinting they exist.
func (h *OrderStatus) Execute(ctx context.Context, params map[string]string, inv trigger.Invocation) (*trigger.Result, error) {
	id, err := strconv.ParseInt(params["order_id"], 10, 64)
	if err != nil {
		return trigger.Failure(fmt.Sprintf("invalid order id %q", params["order_id"])), nil
	}

	order, err := h.orders.FindOrder(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return trigger.Failure(fmt.Sprintf("order %d not found", id)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order %d: %w", id, err)
	}
	if order.UserID != inv.UserID {
		h.logger.Warn("order lookup across users blocked",
			"order_id", id, "owner_id", order.UserID, "user_id", inv.UserID)
		return trigger.Failure(fmt.Sprintf("order %d not found", id)), nil
	}

	return &trigger.Result{
		Success: true,
		Message: fmt.Sprintf("order %d is %s", order.ID, order.Status),
		Data: map[string]any{
			"orderId": order.ID,
			"status":  order.Status,
			"total":   order.Total,
		},
	}, nil
}
