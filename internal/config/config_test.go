package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"FLASHSALE_HOLD", "AUCTION_HOLD", "PAYMENT_DEADLINE", "KAFKA_BROKERS", "WORKER_CONSUMERS"} {
		t.Setenv(k, "")
	}

	c := Load()

	assert.Equal(t, 15*time.Minute, c.FlashSaleHold)
	assert.Equal(t, 24*time.Hour, c.AuctionHold)
	assert.Equal(t, 24*time.Hour, c.PaymentDeadline)
	assert.Equal(t, []string{"kafka:9092"}, c.KafkaBrokers)
	assert.Equal(t, 4, c.WorkerConsumers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FLASHSALE_HOLD", "5m")
	t.Setenv("KAFKA_BROKERS", " a:1, ,b:2 ")
	t.Setenv("POSTGRES_MAX_CONNS", "25")
	t.Setenv("SWEEP_INTERVAL", "garbage")

	c := Load()

	assert.Equal(t, 5*time.Minute, c.FlashSaleHold)
	assert.Equal(t, []string{"a:1", "b:2"}, c.KafkaBrokers)
	assert.Equal(t, int32(25), c.PostgresMaxConn)
	assert.Equal(t, 30*time.Second, c.SweepInterval)
}
