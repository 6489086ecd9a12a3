package logger

import (
	"os"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestCounters(t *testing.T) {
	before := atomic.LoadInt64(&cycles)
	IncrementCycle()
	if got := atomic.LoadInt64(&cycles); got != before+1 {
		t.Fatalf("cycle counter = %d, want %d", got, before+1)
	}

	beforeOrders := atomic.LoadInt64(&ordersPlaced)
	IncrementOrderPlaced()
	if got := atomic.LoadInt64(&ordersPlaced); got != beforeOrders+1 {
		t.Fatalf("orders placed counter = %d, want %d", got, beforeOrders+1)
	}

	RecordChannelMessage("records", 128)
	v, ok := channels.Load("records")
	if !ok {
		t.Fatalf("channel stat not recorded")
	}
	cs := v.(*channelStat)
	if atomic.LoadInt64(&cs.messages) < 1 || atomic.LoadInt64(&cs.bytes) < 128 {
		t.Fatalf("channel stat not accumulated: %+v", cs)
	}
}

func TestRecordWarnBuckets(t *testing.T) {
	beforeEngine := atomic.LoadInt64(&warnsEngine)
	beforeExchange := atomic.LoadInt64(&warnsExchange)

	log := Logger()
	log.WithComponent("engine").Warn("test warn")
	log.WithComponent("bybit_rest").Warn("test warn")

	if got := atomic.LoadInt64(&warnsEngine); got != beforeEngine+1 {
		t.Errorf("engine warn counter = %d, want %d", got, beforeEngine+1)
	}
	if got := atomic.LoadInt64(&warnsExchange); got != beforeExchange+1 {
		t.Errorf("exchange warn counter = %d, want %d", got, beforeExchange+1)
	}
}
