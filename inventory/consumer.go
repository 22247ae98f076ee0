package inventory

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/broker"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

// Consumer wires order lifecycle events into the reservation engine:
// order.created takes the hold, order.cancelled returns it, order.delivered
// consumes the stock.
type Consumer struct {
	engine *Engine
	logger *zap.Logger
}

// NewConsumer builds the inventory-side consumer.
func NewConsumer(engine *Engine, logger *zap.Logger) *Consumer {
	return &Consumer{engine: engine, logger: logger}
}

// Subscriber is the slice of the bus the consumer needs.
type Subscriber interface {
	Subscribe(queue, pattern string, handler broker.Handler) error
}

// Listen registers the consumer's queues on the bus.
func (c *Consumer) Listen(bus Subscriber) error {
	if err := bus.Subscribe("inventory.order.created", events.OrderCreated, c.handleOrderCreated); err != nil {
		return err
	}
	if err := bus.Subscribe("inventory.order.cancelled", events.OrderCancelled, c.handleOrderCancelled); err != nil {
		return err
	}
	return bus.Subscribe("inventory.order.delivered", events.OrderDelivered, c.handleOrderDelivered)
}

func (c *Consumer) handleOrderCreated(ctx context.Context, d broker.Delivery) error {
	const op = "inventory.handleOrderCreated"

	var ev events.OrderCreatedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	lines := make([]LineRequest, len(ev.Lines))
	for i, l := range ev.Lines {
		lines[i] = LineRequest{ItemID: l.ItemID, Quantity: l.Quantity}
	}

	result, err := c.engine.Reserve(ctx, ev.OrderID, ev.CustomerID, lines, 0)
	if err != nil {
		if fault.Is(err, fault.Conflict) {
			// Redelivered order.created after the hold was already taken.
			c.logger.Info("reservation already exists",
				zap.String("order_id", ev.OrderID))
			return nil
		}
		return err
	}
	if !result.OK() {
		// Refusal is an outcome, already published; the message is done.
		return nil
	}

	c.logger.Info("hold taken for order",
		zap.String("order_id", ev.OrderID),
		zap.String("reservation_id", result.ReservationID),
	)
	return nil
}

func (c *Consumer) handleOrderCancelled(ctx context.Context, d broker.Delivery) error {
	const op = "inventory.handleOrderCancelled"

	var ev events.OrderCancelledEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	err := c.engine.Release(ctx, ev.OrderID)
	if fault.Is(err, fault.NotFound) {
		// Cancelled before any hold was taken.
		return nil
	}
	return err
}

func (c *Consumer) handleOrderDelivered(ctx context.Context, d broker.Delivery) error {
	const op = "inventory.handleOrderDelivered"

	var ev events.OrderDeliveredEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	err := c.engine.Confirm(ctx, ev.OrderID)
	if fault.Is(err, fault.Conflict) {
		// Redelivery after a successful confirm.
		c.logger.Info("reservation already settled",
			zap.String("order_id", ev.OrderID))
		return nil
	}
	return err
}
