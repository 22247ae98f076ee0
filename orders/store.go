package orders

import (
	"context"
)

// Store is the order store contract: durable orders with embedded items and
// an append-only status history, plus a compare-and-set write path so
// concurrent transitions resolve deterministically.
type Store interface {
	// Create inserts a new order; a duplicate id is a Conflict.
	Create(ctx context.Context, o *Order) error
	// Get returns the order with items and history, or a NotFound error.
	Get(ctx context.Context, id string) (*Order, error)
	// ListByCustomer pages a customer's orders by creation time descending.
	// page starts at 1. Returns the page and the total count.
	ListByCustomer(ctx context.Context, customerID string, page, pageSize int) ([]*Order, int64, error)
	// Replace writes the full order document if and only if the persisted
	// status still equals expected; losing the race is a Conflict and the
	// caller re-reads before deciding to retry.
	Replace(ctx context.Context, o *Order, expected Status) error
	// SavePaymentDetails stores the opaque encrypted payment fields.
	SavePaymentDetails(ctx context.Context, orderID string, details *PaymentDetails) error
}
