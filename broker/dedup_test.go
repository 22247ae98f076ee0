package broker

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
)

func TestDedupStore(t *testing.T) {
	d := newDedupStore(time.Minute)

	assert.False(t, d.Seen("msg-1", "order-1"))
	d.Record("msg-1", "order-1")
	assert.True(t, d.Seen("msg-1", "order-1"))

	// The pair is the key, not either half alone.
	assert.False(t, d.Seen("msg-1", "order-2"))
	assert.False(t, d.Seen("msg-2", "order-1"))
}

func TestDedupStoreExpiresWindow(t *testing.T) {
	d := newDedupStore(20 * time.Millisecond)
	d.Record("msg-1", "order-1")
	require.True(t, d.Seen("msg-1", "order-1"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, d.Seen("msg-1", "order-1"))
}

func TestDedupStoreIgnoresEmptyMessageID(t *testing.T) {
	d := newDedupStore(time.Minute)
	d.Record("", "order-1")
	assert.False(t, d.Seen("", "order-1"), "messages without ids must never dedup against each other")
}

func TestToDeliveryExtractsEnvelope(t *testing.T) {
	ev := events.OrderCancelledEvent{
		Envelope: events.NewEnvelope(events.OrderCancelled, "order-1"),
		Reason:   "out of stock",
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	got := toDelivery(amqp.Delivery{
		RoutingKey: events.OrderCancelled,
		Body:       body,
	})

	assert.Equal(t, events.OrderCancelled, got.RoutingKey)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, ev.EventID, got.MessageID, "message id falls back to the envelope event id")
	assert.Equal(t, events.OrderCancelled, got.EventType)
}

func TestToDeliveryPrefersTransportFields(t *testing.T) {
	ev := events.OrderCancelledEvent{
		Envelope: events.NewEnvelope(events.OrderCancelled, "order-1"),
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	got := toDelivery(amqp.Delivery{
		MessageId: "transport-id",
		Headers:   amqp.Table{"EventType": "order.cancelled"},
		Body:      body,
	})
	assert.Equal(t, "transport-id", got.MessageID)
	assert.Equal(t, "order.cancelled", got.EventType)
}
