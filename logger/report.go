package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsEngine   int64
	errorsExchange int64
	warnsEngine    int64
	warnsExchange  int64
	cycles         int64
	ordersPlaced   int64
	ordersFailed   int64
	ticksSkipped   int64
	journalFlushes int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "engine") {
		atomic.AddInt64(&warnsEngine, 1)
	} else if strings.Contains(component, "bybit") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&warnsExchange, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "engine") {
		atomic.AddInt64(&errorsEngine, 1)
	} else if strings.Contains(component, "bybit") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&errorsExchange, 1)
	}
}

func IncrementCycle() {
	atomic.AddInt64(&cycles, 1)
}

func IncrementOrderPlaced() {
	atomic.AddInt64(&ordersPlaced, 1)
}

func IncrementOrderFailed() {
	atomic.AddInt64(&ordersFailed, 1)
}

func IncrementTickSkipped() {
	atomic.AddInt64(&ticksSkipped, 1)
}

func IncrementJournalFlush(size int64) {
	atomic.AddInt64(&journalFlushes, 1)
	recordChannel("journal_flush", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	heapMB := float64(memStats.Alloc) / 1024 / 1024
	sysMB := float64(memStats.Sys) / 1024 / 1024

	fields := Fields{
		"errors_engine":   atomic.LoadInt64(&errorsEngine),
		"errors_exchange": atomic.LoadInt64(&errorsExchange),
		"warns_engine":    atomic.LoadInt64(&warnsEngine),
		"warns_exchange":  atomic.LoadInt64(&warnsExchange),
		"cycles":          atomic.LoadInt64(&cycles),
		"orders_placed":   atomic.LoadInt64(&ordersPlaced),
		"orders_failed":   atomic.LoadInt64(&ordersFailed),
		"ticks_skipped":   atomic.LoadInt64(&ticksSkipped),
		"journal_flushes": atomic.LoadInt64(&journalFlushes),
		"goroutines":      runtime.NumGoroutine(),
		"heap_mb":         heapMB,
		"sys_mb":          sysMB,
		"gc_runs":         memStats.NumGC,
		"channels":        channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(heapMB)},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-SysMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(sysMB)},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-Cycles"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cycles)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-OrdersPlaced"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&ordersPlaced)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-OrdersFailed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&ordersFailed)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-TicksSkipped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&ticksSkipped)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-JournalFlushes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&journalFlushes)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-ErrorsEngine"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsEngine)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-ErrorsExchange"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsExchange)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-WarnsEngine"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsEngine)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebalancer-WarnsExchange"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsExchange)))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Rebalancer-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Rebalancer-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
