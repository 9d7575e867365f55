package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "./internal/storage/sqlstore/migrations/postgres", cfg.StoreMigrationsPath)
	assert.Equal(t, SinkKafka, cfg.EventSink)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "BRL", cfg.Currency)
	assert.True(t, cfg.RestockOnCancel)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_DSN", "/tmp/store.db")
	t.Setenv("EVENT_SINK", "RabbitMQ")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("RESTOCK_ON_CANCEL", "false")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")
	t.Setenv("CURRENCY", "usd")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "./internal/storage/sqlstore/migrations/sqlite", cfg.StoreMigrationsPath)
	assert.Equal(t, SinkRabbitMQ, cfg.EventSink)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.RestockOnCancel)
	assert.Equal(t, 10, cfg.OutboxBatchSize)
	assert.Equal(t, "USD", cfg.Currency)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"STORE_DRIVER", "mysql", "STORE_DRIVER"},
		{"EVENT_SINK", "sqs", "EVENT_SINK"},
		{"REQUEST_TIMEOUT", "soon", "REQUEST_TIMEOUT"},
		{"OUTBOX_BATCH_SIZE", "many", "OUTBOX_BATCH_SIZE"},
		{"RESTOCK_ON_CANCEL", "maybe", "RESTOCK_ON_CANCEL"},
		{"CURRENCY", "EURO", "CURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
