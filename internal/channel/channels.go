package channel

import (
	"context"
	"sync"
	"time"

	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

type ChannelStats struct {
	RecordsSent    int64
	RecordsDropped int64
}

// Channels carries finished cycle records from the engine to the journal writer.
type Channels struct {
	Records chan models.CycleRecord

	stats               ChannelStats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(recordBufferSize int) *Channels {
	log := logger.GetLogger()

	if recordBufferSize <= 0 {
		recordBufferSize = 64
	}

	c := &Channels{
		Records: make(chan models.CycleRecord, recordBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"record_buffer_size": recordBufferSize,
	}).Info("channels initialized")

	return c
}

// SendRecord offers a record without blocking the cycle loop. A full buffer
// drops the record.
func (c *Channels) SendRecord(ctx context.Context, rec models.CycleRecord) bool {
	select {
	case c.Records <- rec:
		c.IncrementRecordsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRecordsDropped()
		return false
	}
}

func (c *Channels) IncrementRecordsSent() {
	c.statsMutex.Lock()
	c.stats.RecordsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRecordsDropped() {
	c.statsMutex.Lock()
	c.stats.RecordsDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"records_sent":       stats.RecordsSent,
		"records_dropped":    stats.RecordsDropped,
		"record_channel_len": len(c.Records),
		"record_channel_cap": cap(c.Records),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.Records)
	c.log.WithComponent("channels").Info("record channel closed")
}
