// Package broker adapts a RabbitMQ topic exchange into the publish/subscribe
// surface the order and inventory services share: persistent JSON messages,
// typed routing keys, per-queue dead-lettering and idempotent dispatch.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/metrics"
)

// MaxRetryCount bounds redeliveries before a message is dead-lettered.
const MaxRetryCount = 3

// DLX is the shared direct dead-letter exchange. Each queue gets its own
// "<queue>.dlq" bound to it with the queue name as routing key.
const DLX = "oms.dlx"

const retryCountHeader = "x-retry-count"

// Options configures the bus connection.
type Options struct {
	URL            string
	Exchange       string
	PublishTimeout time.Duration
	DedupWindow    time.Duration
}

// Bus is a connected event bus adapter. One Bus is shared per service; each
// subscription runs on its own AMQP channel, publishing is serialized on a
// dedicated one.
type Bus struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	pubMu    sync.Mutex
	exchange string

	publishTimeout time.Duration
	dedup          *dedupStore
	logger         *zap.Logger
	metrics        *metrics.BusMetrics
}

// Connect dials the broker with exponential backoff, declares the topic
// exchange and the dead-letter exchange, and puts the publisher channel in
// confirm mode.
func Connect(opts Options, log *zap.Logger, m *metrics.BusMetrics) (*Bus, error) {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 24 * time.Hour
	}

	var conn *amqp.Connection
	dial := func() error {
		var err error
		conn, err = amqp.Dial(opts.URL)
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}

	if err := declareExchanges(ch, opts.Exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &Bus{
		conn:           conn,
		pubCh:          ch,
		exchange:       opts.Exchange,
		publishTimeout: opts.PublishTimeout,
		dedup:          newDedupStore(opts.DedupWindow),
		logger:         log,
		metrics:        m,
	}, nil
}

// Close shuts the publisher channel and the connection, in that order.
func (b *Bus) Close() error {
	if err := b.pubCh.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

func declareExchanges(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	err = ch.ExchangeDeclare(
		DLX,      // name
		"direct", // routing key = original queue name
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare DLX exchange: %w", err)
	}
	return nil
}
