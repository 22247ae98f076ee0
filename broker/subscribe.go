package broker

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

// Delivery is one inbound message, with the envelope fields pre-extracted.
type Delivery struct {
	RoutingKey string
	EventType  string
	MessageID  string
	OrderID    string
	Timestamp  time.Time
	Body       []byte
}

// Handler processes one delivery. A nil return acks the message; a Transient
// (or unkinded) error triggers bounded retry and eventually the DLQ;
// Validation and NotFound errors dead-letter immediately since redelivery
// cannot fix them.
type Handler func(ctx context.Context, d Delivery) error

// Subscribe binds a durable queue to the exchange with the given routing key
// pattern (wildcard segments allowed) and dispatches messages serially to
// the handler. Duplicate deliveries inside the dedup window are acked
// without invoking the handler.
func (b *Bus) Subscribe(queue, pattern string, handler Handler) error {
	const op = "broker.Subscribe"

	ch, err := b.conn.Channel()
	if err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}

	q, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange": DLX,
		},
	)
	if err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}

	// Queue-specific DLQ, bound to the DLX with the queue name as key.
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}
	if err := ch.QueueBind(dlq, queue, DLX, false, nil); err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}

	if err := ch.QueueBind(q.Name, pattern, b.exchange, false, nil); err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}

	// Prefetch 1 keeps dispatch serial per queue even if the broker is ahead.
	if err := ch.Qos(1, 0, false); err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack off, handlers ack explicitly
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}

	b.logger.Info("subscribed",
		zap.String("queue", queue),
		zap.String("pattern", pattern),
	)

	go func() {
		for d := range msgs {
			b.dispatch(ch, queue, d, handler)
		}
		b.logger.Warn("consumer channel closed", zap.String("queue", queue))
	}()

	return nil
}

func (b *Bus) dispatch(ch *amqp.Channel, queue string, d amqp.Delivery, handler Handler) {
	delivery := toDelivery(d)

	if b.dedup.Seen(delivery.MessageID, delivery.OrderID) {
		b.metrics.Deduplicated.Inc()
		b.logger.Info("duplicate delivery short-circuited",
			zap.String("queue", queue),
			zap.String("message_id", delivery.MessageID),
			zap.String("order_id", delivery.OrderID),
		)
		d.Ack(false)
		return
	}

	err := handler(context.Background(), delivery)
	if err == nil {
		b.dedup.Record(delivery.MessageID, delivery.OrderID)
		b.metrics.Consumed.WithLabelValues(queue, "ok").Inc()
		d.Ack(false)
		return
	}

	kind := fault.KindOf(err)
	b.logger.Error("handler failed",
		zap.String("queue", queue),
		zap.String("message_id", delivery.MessageID),
		zap.String("order_id", delivery.OrderID),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)

	switch kind {
	case fault.Validation, fault.NotFound, fault.Fatal:
		// Redelivery cannot fix these; route straight to the DLQ.
		b.metrics.Consumed.WithLabelValues(queue, "dead").Inc()
		b.metrics.DeadLettered.Inc()
		d.Nack(false, false)
	default:
		b.retry(ch, queue, d)
	}
}

// retry republishes the message to its queue with an incremented
// x-retry-count header, backing off linearly like the original deliveries
// did. Once the count reaches MaxRetryCount the message is nacked without
// requeue and the DLX routes it to the queue's DLQ.
func (b *Bus) retry(ch *amqp.Channel, queue string, d amqp.Delivery) {
	if d.Headers == nil {
		d.Headers = amqp.Table{}
	}
	retryCount, ok := d.Headers[retryCountHeader].(int64)
	if !ok {
		retryCount = 0
	}
	retryCount++
	d.Headers[retryCountHeader] = retryCount

	if retryCount >= MaxRetryCount {
		b.logger.Warn("max retries reached, dead-lettering",
			zap.String("queue", queue),
			zap.Int64("retries", retryCount),
		)
		b.metrics.Consumed.WithLabelValues(queue, "dead").Inc()
		b.metrics.DeadLettered.Inc()
		d.Nack(false, false)
		return
	}

	time.Sleep(time.Second * time.Duration(retryCount))

	// Republish through the default exchange so only this queue sees the
	// retried copy, then ack the original delivery.
	err := ch.PublishWithContext(
		context.Background(),
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Timestamp:    d.Timestamp,
			Headers:      d.Headers,
			Body:         d.Body,
		},
	)
	if err != nil {
		b.logger.Error("retry republish failed, requeueing", zap.Error(err))
		d.Nack(false, true)
		return
	}
	b.metrics.Consumed.WithLabelValues(queue, "retried").Inc()
	d.Ack(false)
}

func toDelivery(d amqp.Delivery) Delivery {
	out := Delivery{
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageId,
		Timestamp:  d.Timestamp,
		Body:       d.Body,
	}
	if et, ok := d.Headers["EventType"].(string); ok {
		out.EventType = et
	}

	// The envelope is authoritative for order correlation; the message id
	// falls back to the envelope event id for messages published by peers
	// that only fill the body.
	var env events.Envelope
	if err := json.Unmarshal(d.Body, &env); err == nil {
		out.OrderID = env.OrderID
		if out.MessageID == "" {
			out.MessageID = env.EventID
		}
		if out.EventType == "" {
			out.EventType = env.EventType
		}
	}
	return out
}
