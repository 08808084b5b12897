package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Business.OrderExpiry)
	assert.Equal(t, 2*time.Minute, cfg.Business.PayoutHold)
	assert.Equal(t, 30*time.Second, cfg.Business.SweepInterval)
	assert.Equal(t, 15, cfg.Business.RefundWindowDays)
	assert.Equal(t, 5, cfg.Business.PlatformFeePct)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ORDER_EXPIRY_MINUTES", "30")
	t.Setenv("PLATFORM_FEE_PERCENT", "10")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Business.OrderExpiry)
	assert.Equal(t, 10, cfg.Business.PlatformFeePct)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}
