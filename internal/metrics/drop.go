package metrics

import "github.com/yanapattin-source/bybit-rebalance-perp/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricCycleRecords records cycle records dropped before journaling.
	DropMetricCycleRecords DropMetric = "cycle_records_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel message.
// The metric value is always one, so callers invoke this helper per dropped
// message. Optional metadata (symbol, stage) is added to the metric fields when
// provided.
func EmitDropMetric(log *logger.Log, metric DropMetric, symbol, stage string) {
	fields := logger.Fields{}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
