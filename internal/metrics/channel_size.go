package metrics

import (
	"context"
	"time"

	"github.com/yanapattin-source/bybit-rebalance-perp/internal/channel"
	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
)

// StartChannelSizeMetrics emits occupancy gauges for the cycle record buffer.
// Metrics are logged every `interval` until the context is cancelled. When
// interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, "channel_buffers", "record_buffer_length", len(channels.Records), "gauge", logger.Fields{
					"buffer":   "records",
					"capacity": cap(channels.Records),
				})
			}
		}
	}()
}
