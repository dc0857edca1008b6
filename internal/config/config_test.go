package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8081", cfg.HTTPPort)
		assert.Equal(t, "order.events", cfg.OrderEventsTopic)
		assert.Equal(t, 24*time.Hour, cfg.FeedbackDelay)
		assert.Equal(t, "INR", cfg.Currency)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "9090")
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
		t.Setenv("FEEDBACK_DELAY", "2h")
		t.Setenv("DELIVERY_BONUS_CAP", "250")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.HTTPPort)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
		assert.Equal(t, 2*time.Hour, cfg.FeedbackDelay)
		assert.Equal(t, "250", cfg.DeliveryBonusCap)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ops_email: ops@giftshop.test\nrate_limit_burst: 7\n"), 0o600))
		t.Setenv("CONFIG_FILE", path)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "ops@giftshop.test", cfg.OpsEmail)
		assert.Equal(t, 7, cfg.RateLimitBurst)
	})
}

func TestConfig_Settings(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, "50", settings.DeliveryCharge.String())
	assert.Equal(t, "0.1", settings.DeliveryBonusRate.String())

	cfg.DeliveryCharge = "fifty"
	_, err = cfg.Settings()
	assert.ErrorContains(t, err, "delivery_charge")
}
