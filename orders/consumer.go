package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/broker"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

// Consumer reacts to collaborator events and drives orders through the
// state machine: payment results, reservation outcomes, shipping quotes and
// expiry notices all land here.
type Consumer struct {
	service *Service
	logger  *zap.Logger
}

// NewConsumer builds the orchestrator-side consumer.
func NewConsumer(service *Service, logger *zap.Logger) *Consumer {
	return &Consumer{service: service, logger: logger}
}

// Subscriber is the slice of the bus the consumer needs.
type Subscriber interface {
	Subscribe(queue, pattern string, handler broker.Handler) error
}

// Listen registers the consumer's queues on the bus.
func (c *Consumer) Listen(bus Subscriber) error {
	subs := []struct {
		queue, pattern string
		handler        broker.Handler
	}{
		{"orders.payment.processed", events.PaymentProcessed, c.handlePaymentProcessed},
		{"orders.inventory.reserved", events.InventoryReserved, c.handleInventoryReserved},
		{"orders.inventory.reservation.failed", events.InventoryReservationFailed, c.handleReservationFailed},
		{"orders.shipping.rate.calculated", events.ShippingRateCalculated, c.handleShippingRate},
		{"orders.reservation.expired", events.OrderReservationExpired, c.handleReservationExpired},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.queue, s.pattern, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// hop is one transition applied while handling an event, kept so the
// resulting announcements go out only after the write committed.
type hop struct {
	from, to Status
	comment  string
}

// advance walks the order through each status in steps, recording hops. A
// step the graph does not allow stops the walk without failing the handler.
func (c *Consumer) advance(o *Order, actor, comment string, hops *[]hop, steps ...Status) {
	for _, to := range steps {
		from := o.Status
		if err := c.service.transition(o, to, actor, comment); err != nil {
			return
		}
		*hops = append(*hops, hop{from: from, to: to, comment: comment})
	}
}

// announce publishes the per-hop status changes plus the lifecycle events.
func (c *Consumer) announce(ctx context.Context, o *Order, actor string, hops []hop) {
	for _, h := range hops {
		c.service.metrics.StatusChanges.WithLabelValues(string(h.to)).Inc()
		c.service.publishStatusChanged(ctx, o, h.from, h.to, actor, h.comment)
		c.service.publishLifecycle(ctx, o, h.to)
	}
}

func (c *Consumer) handlePaymentProcessed(ctx context.Context, d broker.Delivery) error {
	const op = "orders.handlePaymentProcessed"

	var ev events.PaymentProcessedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	var hops []hop
	o, err := c.service.update(ctx, ev.OrderID, func(o *Order) error {
		hops = hops[:0]
		if !ev.Success {
			o.PaymentStatus = PaymentFailed
			reason := ev.FailureReason
			if reason == "" {
				reason = "payment declined"
			}
			o.AddNote("Payment failed: " + reason)
			return nil
		}
		if o.PaymentStatus == PaymentPaid && o.PaymentReference == ev.TransactionReference {
			// Redelivered payment confirmation.
			return nil
		}
		o.PaymentStatus = PaymentPaid
		o.PaymentReference = ev.TransactionReference
		if ev.Method != "" {
			o.PaymentMethod = ev.Method
		}
		switch {
		case o.Status == StatusPending && o.InventoryStatus == InventoryReserved:
			c.advance(o, "payment", "Payment received", &hops,
				StatusProcessing, StatusReadyForShipment)
		case o.Status == StatusPending:
			c.advance(o, "payment", "Payment received", &hops, StatusProcessing)
		case o.Status == StatusProcessing && o.InventoryStatus == InventoryReserved:
			c.advance(o, "payment", "Payment received", &hops, StatusReadyForShipment)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.announce(ctx, o, "payment", hops)
	return nil
}

func (c *Consumer) handleInventoryReserved(ctx context.Context, d broker.Delivery) error {
	const op = "orders.handleInventoryReserved"

	var ev events.InventoryReservedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	var hops []hop
	o, err := c.service.update(ctx, ev.OrderID, func(o *Order) error {
		hops = hops[:0]
		if o.InventoryStatus == InventoryReserved || o.InventoryStatus == InventoryConfirmed {
			return nil
		}
		o.InventoryStatus = InventoryReserved
		expiry := ev.ExpiresAt
		o.ReservationExpiry = &expiry
		if o.PaymentStatus == PaymentPaid && o.Status == StatusProcessing {
			c.advance(o, "inventory", "Stock reserved", &hops, StatusReadyForShipment)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.announce(ctx, o, "inventory", hops)
	return nil
}

func (c *Consumer) handleReservationFailed(ctx context.Context, d broker.Delivery) error {
	const op = "orders.handleReservationFailed"

	var ev events.InventoryReservationFailedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	var hops []hop
	o, err := c.service.update(ctx, ev.OrderID, func(o *Order) error {
		hops = hops[:0]
		if o.InventoryStatus == InventoryFailed {
			return nil
		}
		o.InventoryStatus = InventoryFailed
		o.AddNote(shortfallNote(ev))
		c.advance(o, "inventory", "Insufficient stock", &hops, StatusOnHold)
		return nil
	})
	if err != nil {
		return err
	}
	c.announce(ctx, o, "inventory", hops)
	return nil
}

// shortfallNote renders the refused lines into one order note.
func shortfallNote(ev events.InventoryReservationFailedEvent) string {
	var b strings.Builder
	b.WriteString("Reservation failed: ")
	if ev.Reason != "" {
		b.WriteString(ev.Reason)
	} else {
		b.WriteString("insufficient stock")
	}
	for _, l := range ev.Unavailable {
		fmt.Fprintf(&b, "; %s requested %d available %d", l.ItemID, l.Requested, l.Available)
	}
	return b.String()
}

func (c *Consumer) handleShippingRate(ctx context.Context, d broker.Delivery) error {
	const op = "orders.handleShippingRate"

	var ev events.ShippingRateCalculatedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}
	if ev.ShippingCostCents < 0 {
		return fault.Newf(fault.Validation, op,
			"negative shipping cost %d for order %s", ev.ShippingCostCents, ev.OrderID)
	}

	var hops []hop
	o, err := c.service.update(ctx, ev.OrderID, func(o *Order) error {
		hops = hops[:0]
		o.ShippingCents = ev.ShippingCostCents
		if ev.Carrier != "" {
			o.Shipping.Carrier = ev.Carrier
		}
		if ev.ShippingMethod != "" {
			o.Shipping.Method = ev.ShippingMethod
		}
		if ev.TrackingNumber != "" {
			o.Shipping.TrackingNumber = ev.TrackingNumber
		}
		if ev.EstimatedDeliveryDate != nil {
			est := *ev.EstimatedDeliveryDate
			o.Shipping.EstimatedDelivery = &est
		}
		// Re-quotes replace the shipping component, never stack.
		if err := o.Recalculate(); err != nil {
			return fault.Wrap(fault.Validation, op, err)
		}
		if ev.TrackingNumber != "" {
			switch o.Status {
			case StatusReadyForShipment:
				c.advance(o, "shipping", "Shipment dispatched", &hops, StatusShipped)
			case StatusProcessing:
				c.advance(o, "shipping", "Shipment dispatched", &hops,
					StatusReadyForShipment, StatusShipped)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.announce(ctx, o, "shipping", hops)
	return nil
}

func (c *Consumer) handleReservationExpired(ctx context.Context, d broker.Delivery) error {
	const op = "orders.handleReservationExpired"

	var ev events.ReservationExpiredEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	var hops []hop
	o, err := c.service.update(ctx, ev.OrderID, func(o *Order) error {
		hops = hops[:0]
		if o.InventoryStatus != InventoryReserved {
			// The hold was already settled or released; nothing to unwind.
			return nil
		}
		o.InventoryStatus = InventoryReleased
		o.ReservationExpiry = nil
		o.AddNote("Reservation expired, stock returned to the pool")
		if o.Status == StatusProcessing || o.Status == StatusReadyForShipment {
			c.advance(o, "inventory", "Reservation expired", &hops, StatusOnHold)
		}
		return nil
	})
	if err != nil {
		if fault.Is(err, fault.NotFound) {
			c.logger.Warn("reservation expired for unknown order",
				zap.String("order_id", ev.OrderID))
			return nil
		}
		return err
	}
	c.announce(ctx, o, "inventory", hops)
	return nil
}
