package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "CURRENCY", "MAX_LINE_QUANTITY", "FLAT_SHIPPING",
		"COMMIT_MAX_RETRIES", "ORDER_NUMBER_MAX_ATTEMPTS", "COUPON_STRICT_LIMIT",
		"IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_PENDING_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Business.Currency)
	assert.Equal(t, 99, cfg.Business.MaxLineQuantity)
	assert.Equal(t, "60.00", cfg.Business.FlatShipping)
	assert.Equal(t, 3, cfg.Business.CommitMaxRetries)
	assert.Equal(t, 10, cfg.Business.OrderNumberMaxAttempts)
	assert.True(t, cfg.Business.CouponStrictLimit)
	assert.Equal(t, 86400, cfg.Business.IdempotencyTTLSeconds)
	assert.Equal(t, 120, cfg.Business.IdempotencyPendingTTLSeconds)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CURRENCY", "eur")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("COMMIT_MAX_RETRIES", "5")
	t.Setenv("COUPON_STRICT_LIMIT", "false")
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "EUR", cfg.Business.Currency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Business.CommitMaxRetries)
	assert.False(t, cfg.Business.CouponStrictLimit)
	assert.Equal(t, 10, cfg.Gateway.PaymentTimeoutSeconds)
}
