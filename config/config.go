// Package config loads environment-sourced configuration for both services.
package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the order and inventory services read from the
// environment. Broker settings and store URLs are mandatory; the rest carry
// the documented defaults.
type Config struct {
	BrokerHost     string `envconfig:"BROKER_HOST" required:"true"`
	BrokerPort     string `envconfig:"BROKER_PORT" required:"true"`
	BrokerUsername string `envconfig:"BROKER_USERNAME" required:"true"`
	BrokerPassword string `envconfig:"BROKER_PASSWORD" required:"true"`
	BrokerVHost    string `envconfig:"BROKER_VHOST" required:"true"`
	BrokerExchange string `envconfig:"BROKER_EXCHANGE" required:"true"`

	ItemStoreURL  string `envconfig:"ITEM_STORE_URL" required:"true"`
	OrderStoreURL string `envconfig:"ORDER_STORE_URL" required:"true"`

	// Base64-encoded AES key for payment-detail encryption. Only the order
	// service requires it.
	PaymentEncryptionKey string `envconfig:"PAYMENT_ENCRYPTION_KEY"`

	// Optional Redis address for the item read cache. Empty disables it.
	ItemCacheAddr string `envconfig:"ITEM_CACHE_ADDR"`

	ReservationDefaultTTLMinutes int `envconfig:"RESERVATION_DEFAULT_TTL_MINUTES" default:"15"`
	ReservationSweepMinutes      int `envconfig:"RESERVATION_SWEEP_INTERVAL_MINUTES" default:"5"`
	TaxRateBasisPoints           int `envconfig:"TAX_RATE_BASIS_POINTS" default:"825"`
	EventDedupWindowHours        int `envconfig:"EVENT_DEDUP_WINDOW_HOURS" default:"24"`
	LowStockThreshold            int `envconfig:"LOW_STOCK_THRESHOLD" default:"3"`

	StoreTimeoutSeconds   int `envconfig:"STORE_TIMEOUT_SECONDS" default:"5"`
	PublishTimeoutSeconds int `envconfig:"PUBLISH_TIMEOUT_SECONDS" default:"10"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:"localhost:9091"`
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ReservationDefaultTTLMinutes <= 0 {
		return fmt.Errorf("RESERVATION_DEFAULT_TTL_MINUTES must be positive, got %d", c.ReservationDefaultTTLMinutes)
	}
	if c.ReservationSweepMinutes <= 0 {
		return fmt.Errorf("RESERVATION_SWEEP_INTERVAL_MINUTES must be positive, got %d", c.ReservationSweepMinutes)
	}
	if c.TaxRateBasisPoints < 0 {
		return fmt.Errorf("TAX_RATE_BASIS_POINTS must not be negative, got %d", c.TaxRateBasisPoints)
	}
	if c.EventDedupWindowHours <= 0 {
		return fmt.Errorf("EVENT_DEDUP_WINDOW_HOURS must be positive, got %d", c.EventDedupWindowHours)
	}
	return nil
}

// PaymentKey decodes the payment encryption key.
func (c *Config) PaymentKey() ([]byte, error) {
	if c.PaymentEncryptionKey == "" {
		return nil, fmt.Errorf("PAYMENT_ENCRYPTION_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(c.PaymentEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_ENCRYPTION_KEY is not valid base64: %w", err)
	}
	return key, nil
}

// BrokerURL assembles the AMQP connection URL.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
		url.QueryEscape(c.BrokerUsername), url.QueryEscape(c.BrokerPassword),
		c.BrokerHost, c.BrokerPort, url.PathEscape(c.BrokerVHost))
}

func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationDefaultTTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.ReservationSweepMinutes) * time.Minute
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.EventDedupWindowHours) * time.Hour
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutSeconds) * time.Second
}
