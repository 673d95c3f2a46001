package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "nxtmarket", cfg.ServiceName)
	assert.Equal(t, ":5000", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.Equal(t, 30*time.Second, cfg.IdempotencyLease)
	assert.Equal(t, TransportLog, cfg.NotifyTransport)
	assert.Equal(t, cfg.JWTSecret, cfg.WebhookSecret)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(envOf(map[string]string{
		"JWT_SECRET":              "jwt",
		"PAYMENTS_WEBHOOK_SECRET": "hook",
		"LOW_STOCK_THRESHOLD":     "2",
		"NOTIFY_TRANSPORT":        "KAFKA",
		"KAFKA_BROKERS":           "k1:9092, k2:9092,",
	}))
	require.NoError(t, err)

	assert.Equal(t, "hook", cfg.WebhookSecret)
	assert.Equal(t, 2, cfg.LowStockThreshold)
	assert.Equal(t, TransportKafka, cfg.NotifyTransport)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]map[string]string{
		"threshold":       {"LOW_STOCK_THRESHOLD": "five"},
		"lease":           {"IDEMPOTENCY_LEASE": "soon"},
		"transport":       {"NOTIFY_TRANSPORT": "carrier-pigeon"},
		"kafka no broker": {"NOTIFY_TRANSPORT": "kafka"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(envOf(env))
			assert.Error(t, err)
		})
	}
}
