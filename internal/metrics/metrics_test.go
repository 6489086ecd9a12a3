package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/yanapattin-source/bybit-rebalance-perp/internal/channel"
	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

func TestEmitDropMetric(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		events <- m
	})
	t.Cleanup(func() {
		UnregisterMetricHandler(id)
	})

	EmitDropMetric(logger.GetLogger(), DropMetricCycleRecords, "BTCUSDT", "journal")

	select {
	case event := <-events:
		if event.Name != string(DropMetricCycleRecords) {
			t.Fatalf("unexpected metric name: %s", event.Name)
		}
		if event.Component != "channel_drops" {
			t.Fatalf("unexpected component: %s", event.Component)
		}
		if event.Fields["symbol"] != "BTCUSDT" || event.Fields["stage"] != "journal" {
			t.Fatalf("unexpected fields: %v", event.Fields)
		}
		if event.Value != 1 {
			t.Fatalf("drop metrics must count single drops, got %v", event.Value)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("drop metric not dispatched")
	}
}

func TestStartChannelSizeMetrics(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 4)
	id := RegisterMetricHandler(func(m Metric) {
		if m.Name == "record_buffer_length" {
			select {
			case events <- m:
			default:
			}
		}
	})
	t.Cleanup(func() {
		UnregisterMetricHandler(id)
	})

	ch := channel.NewChannels(4)
	defer ch.Close()
	ch.SendRecord(context.Background(), models.CycleRecord{Symbol: "BTCUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartChannelSizeMetrics(ctx, ch, 10*time.Millisecond)

	select {
	case event := <-events:
		if event.Type != "gauge" {
			t.Fatalf("expected gauge metric, got %s", event.Type)
		}
		if event.Value != 1 {
			t.Fatalf("expected buffer length 1, got %v", event.Value)
		}
		if event.Fields["capacity"] != 4 {
			t.Fatalf("expected capacity field 4, got %v", event.Fields["capacity"])
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("channel size metric not emitted")
	}
}

func TestStartChannelSizeMetricsNilChannels(t *testing.T) {
	StartChannelSizeMetrics(context.Background(), nil, time.Millisecond)
}
