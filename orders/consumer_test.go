package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/broker"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
)

func delivery(t *testing.T, routingKey string, ev events.Event) broker.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	meta := ev.Meta()
	return broker.Delivery{
		RoutingKey: routingKey,
		EventType:  meta.EventType,
		MessageID:  meta.EventID,
		OrderID:    meta.OrderID,
		Timestamp:  meta.Timestamp,
		Body:       body,
	}
}

func newTestConsumer(t *testing.T, store Store, bus Publisher) *Consumer {
	t.Helper()
	return NewConsumer(newTestService(t, store, bus), zap.NewNop())
}

func paymentEvent(orderID string, success bool, ref string) events.PaymentProcessedEvent {
	ev := events.PaymentProcessedEvent{
		Envelope:             events.NewEnvelope(events.PaymentProcessed, orderID),
		Success:              success,
		Method:               "credit_card",
		TransactionReference: ref,
	}
	if !success {
		ev.FailureReason = "card declined"
	}
	return ev
}

func TestPaymentSuccessAdvancesPendingOrder(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusPending))
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	err := consumer.handlePaymentProcessed(ctx, delivery(t, events.PaymentProcessed,
		paymentEvent("order-1", true, "txn-1")))
	require.NoError(t, err)

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "txn-1", o.PaymentReference)
	assert.Equal(t, 1, bus.count(events.OrderStatusChanged))
}

func TestPaymentSuccessWithReservedStockReachesReady(t *testing.T) {
	seed := seedOrder(StatusPending)
	seed.InventoryStatus = InventoryReserved
	store := newMemOrderStore(seed)
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	err := consumer.handlePaymentProcessed(ctx, delivery(t, events.PaymentProcessed,
		paymentEvent("order-1", true, "txn-1")))
	require.NoError(t, err)

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForShipment, o.Status)
	require.NotNil(t, o.Shipping.PackingDate)

	// Both hops land in the history and on the bus.
	n := len(o.History)
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, StatusProcessing, o.History[n-2].Status)
	assert.Equal(t, StatusReadyForShipment, o.History[n-1].Status)
	assert.Equal(t, 2, bus.count(events.OrderStatusChanged))
}

func TestPaymentFailureHoldsStatus(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusPending))
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	err := consumer.handlePaymentProcessed(ctx, delivery(t, events.PaymentProcessed,
		paymentEvent("order-1", false, "")))
	require.NoError(t, err)

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status, "a failed payment does not move the order")
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	require.Len(t, o.Notes, 1)
	assert.Contains(t, o.Notes[0], "card declined")
	assert.Zero(t, bus.count(events.OrderStatusChanged))
}

func TestPaymentRedeliveryIsIdempotent(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusPending))
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	ev := paymentEvent("order-1", true, "txn-1")
	require.NoError(t, consumer.handlePaymentProcessed(ctx, delivery(t, events.PaymentProcessed, ev)))
	require.NoError(t, consumer.handlePaymentProcessed(ctx, delivery(t, events.PaymentProcessed, ev)))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, 1, bus.count(events.OrderStatusChanged))
}

func TestInventoryReservedRecordsExpiry(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusPending))
	consumer := newTestConsumer(t, store, &fakeBus{})
	ctx := context.Background()

	expires := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Millisecond)
	ev := events.InventoryReservedEvent{
		Envelope:      events.NewEnvelope(events.InventoryReserved, "order-1"),
		ReservationID: "res-1",
		ExpiresAt:     expires,
	}
	require.NoError(t, consumer.handleInventoryReserved(ctx, delivery(t, events.InventoryReserved, ev)))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, InventoryReserved, o.InventoryStatus)
	require.NotNil(t, o.ReservationExpiry)
	assert.True(t, o.ReservationExpiry.Equal(expires))
	assert.Equal(t, StatusPending, o.Status, "reservation alone does not advance an unpaid order")
}

func TestInventoryReservedAdvancesPaidOrder(t *testing.T) {
	seed := seedOrder(StatusProcessing)
	seed.PaymentStatus = PaymentPaid
	store := newMemOrderStore(seed)
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	ev := events.InventoryReservedEvent{
		Envelope:      events.NewEnvelope(events.InventoryReserved, "order-1"),
		ReservationID: "res-1",
		ExpiresAt:     time.Now().UTC().Add(15 * time.Minute),
	}
	require.NoError(t, consumer.handleInventoryReserved(ctx, delivery(t, events.InventoryReserved, ev)))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForShipment, o.Status)
}

func TestReservationFailurePutsOrderOnHold(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusProcessing))
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	ev := events.InventoryReservationFailedEvent{
		Envelope: events.NewEnvelope(events.InventoryReservationFailed, "order-1"),
		Reason:   "insufficient stock",
		Unavailable: []events.UnavailableLine{
			{ItemID: "card-1", Requested: 2, Available: 1},
		},
	}
	require.NoError(t, consumer.handleReservationFailed(ctx, delivery(t, events.InventoryReservationFailed, ev)))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, o.Status)
	assert.Equal(t, InventoryFailed, o.InventoryStatus)
	require.Len(t, o.Notes, 1)
	assert.Contains(t, o.Notes[0], "card-1")
	assert.Contains(t, o.Notes[0], "requested 2")
}

func shippingEvent(orderID, tracking string, cents int64) events.ShippingRateCalculatedEvent {
	return events.ShippingRateCalculatedEvent{
		Envelope:          events.NewEnvelope(events.ShippingRateCalculated, orderID),
		ShippingCostCents: cents,
		ShippingMethod:    "ground",
		TrackingNumber:    tracking,
		Carrier:           "UPS",
	}
}

func TestShippingQuoteRecomputesTotal(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusPending))
	consumer := newTestConsumer(t, store, &fakeBus{})
	ctx := context.Background()

	require.NoError(t, consumer.handleShippingRate(ctx, delivery(t, events.ShippingRateCalculated,
		shippingEvent("order-1", "", 500))))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), o.ShippingCents)
	assert.Equal(t, int64(2665), o.TotalCents)

	// A re-quote replaces the component instead of stacking.
	require.NoError(t, consumer.handleShippingRate(ctx, delivery(t, events.ShippingRateCalculated,
		shippingEvent("order-1", "", 700))))

	o, err = store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), o.ShippingCents)
	assert.Equal(t, int64(2865), o.TotalCents)
}

func TestShippingWithTrackingDispatchesOrder(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusProcessing))
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	require.NoError(t, consumer.handleShippingRate(ctx, delivery(t, events.ShippingRateCalculated,
		shippingEvent("order-1", "1Z999", 500))))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, "1Z999", o.Shipping.TrackingNumber)
	require.NotNil(t, o.Shipping.PackingDate)
	require.NotNil(t, o.Shipping.ShippingDate)

	// Processing walks through ready_for_shipment on its way out the door.
	n := len(o.History)
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, StatusReadyForShipment, o.History[n-2].Status)
	assert.Equal(t, StatusShipped, o.History[n-1].Status)
	assert.Equal(t, 2, bus.count(events.OrderStatusChanged))

	shipped, ok := bus.last(events.OrderShipped).(events.OrderShippedEvent)
	require.True(t, ok)
	assert.Equal(t, "1Z999", shipped.TrackingNumber)
}

func TestShippingQuoteLeavesShippedOrderAlone(t *testing.T) {
	store := newMemOrderStore(seedOrder(StatusShipped))
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	require.NoError(t, consumer.handleShippingRate(ctx, delivery(t, events.ShippingRateCalculated,
		shippingEvent("order-1", "1Z999", 500))))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Zero(t, bus.count(events.OrderStatusChanged))
}

func TestReservationExpiryPutsOrderOnHold(t *testing.T) {
	seed := seedOrder(StatusProcessing)
	seed.InventoryStatus = InventoryReserved
	expiry := time.Now().UTC()
	seed.ReservationExpiry = &expiry
	store := newMemOrderStore(seed)
	bus := &fakeBus{}
	consumer := newTestConsumer(t, store, bus)
	ctx := context.Background()

	ev := events.ReservationExpiredEvent{
		Envelope:      events.NewEnvelope(events.OrderReservationExpired, "order-1"),
		ReservationID: "res-1",
		ExpiredAt:     time.Now().UTC(),
	}
	require.NoError(t, consumer.handleReservationExpired(ctx, delivery(t, events.OrderReservationExpired, ev)))

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, o.Status)
	assert.Equal(t, InventoryReleased, o.InventoryStatus)
	assert.Nil(t, o.ReservationExpiry)
	require.Len(t, o.Notes, 1)

	// A second notice finds nothing reserved and changes nothing.
	require.NoError(t, consumer.handleReservationExpired(ctx, delivery(t, events.OrderReservationExpired, ev)))
	o, err = store.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, o.Notes, 1)
}

func TestReservationExpiryForUnknownOrderIsDropped(t *testing.T) {
	consumer := newTestConsumer(t, newMemOrderStore(), &fakeBus{})

	ev := events.ReservationExpiredEvent{
		Envelope:      events.NewEnvelope(events.OrderReservationExpired, "ghost-order"),
		ReservationID: "res-1",
		ExpiredAt:     time.Now().UTC(),
	}
	err := consumer.handleReservationExpired(context.Background(), delivery(t, events.OrderReservationExpired, ev))
	assert.NoError(t, err)
}
