package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

// Publish sends one event to the topic exchange. Messages are persistent and
// carry the envelope's event id as message id, its UTC timestamp, and an
// EventType header. The call blocks until the broker confirms the publish;
// an unconfirmed or failed publish surfaces as a Transient error and the
// event is not considered delivered.
func (b *Bus) Publish(ctx context.Context, routingKey string, event events.Event) error {
	const op = "broker.Publish"

	meta := event.Meta()
	if meta.EventID == "" {
		return fault.New(fault.Validation, op, "event has no event id")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fault.Wrap(fault.Validation, op, fmt.Errorf("marshal %s: %w", routingKey, err))
	}

	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	b.pubMu.Lock()
	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(
		ctx,
		b.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    meta.EventID,
			Timestamp:    meta.Timestamp,
			Headers: amqp.Table{
				"EventType": meta.EventType,
			},
			Body: body,
		},
	)
	b.pubMu.Unlock()
	if err != nil {
		return fault.Wrap(fault.Transient, op, fmt.Errorf("publish %s: %w", routingKey, err))
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fault.Wrap(fault.Transient, op, fmt.Errorf("confirm %s: %w", routingKey, err))
	}
	if !acked {
		return fault.Newf(fault.Transient, op, "broker nacked publish of %s", routingKey)
	}

	b.metrics.Published.WithLabelValues(routingKey).Inc()
	b.logger.Debug("event published",
		zap.String("routing_key", routingKey),
		zap.String("event_id", meta.EventID),
		zap.String("order_id", meta.OrderID),
	)
	return nil
}
