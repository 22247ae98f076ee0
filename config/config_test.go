package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BROKER_HOST", "localhost")
	t.Setenv("BROKER_PORT", "5672")
	t.Setenv("BROKER_USERNAME", "guest")
	t.Setenv("BROKER_PASSWORD", "guest")
	t.Setenv("BROKER_VHOST", "oms")
	t.Setenv("BROKER_EXCHANGE", "oms.events")
	t.Setenv("ITEM_STORE_URL", "postgres://localhost/items")
	t.Setenv("ORDER_STORE_URL", "mongodb://localhost/orders")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL())
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 24*time.Hour, cfg.DedupWindow())
	assert.Equal(t, 825, cfg.TaxRateBasisPoints)
	assert.Equal(t, 3, cfg.LowStockThreshold)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout())
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout())
}

func TestLoadRequiresBroker(t *testing.T) {
	setRequired(t)
	// t.Setenv registers the restore; unset to simulate a missing variable.
	os.Unsetenv("BROKER_HOST")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsZeroTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("RESERVATION_DEFAULT_TTL_MINUTES", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestBrokerURLEscapesCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("BROKER_PASSWORD", "p@ss/word")

	cfg, err := Load()
	require.NoError(t, err)
	url := cfg.BrokerURL()
	assert.Contains(t, url, "amqp://guest:")
	assert.NotContains(t, url, "p@ss/word")
	assert.Contains(t, url, "@localhost:5672/oms")
}

func TestPaymentKey(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	_, err = cfg.PaymentKey()
	assert.Error(t, err, "missing key must be reported, not defaulted")

	t.Setenv("PAYMENT_ENCRYPTION_KEY", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	cfg, err = Load()
	require.NoError(t, err)
	key, err := cfg.PaymentKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	t.Setenv("PAYMENT_ENCRYPTION_KEY", "not base64!!!")
	cfg, err = Load()
	require.NoError(t, err)
	_, err = cfg.PaymentKey()
	assert.Error(t, err)
}
