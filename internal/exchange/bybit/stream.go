package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "github.com/yanapattin-source/bybit-rebalance-perp/config"
	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
)

// tickerStreamData is the data object of a V5 linear ticker message. Deltas
// only carry the fields that changed; absent fields arrive empty.
type tickerStreamData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
}

type tickerStreamPayload struct {
	Topic string           `json:"topic"`
	Type  string           `json:"type"`
	Ts    int64            `json:"ts"`
	Data  tickerStreamData `json:"data"`
}

// TickerStream maintains the latest traded price of one symbol from the
// public tickers stream so the engine can price a cycle without a REST call.
type TickerStream struct {
	cfg    appconfig.ExchangeConfig
	log    *logger.Log
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	wg     sync.WaitGroup

	running bool

	wsConn *websocket.Conn
	connMu sync.Mutex

	priceMu   sync.RWMutex
	lastPrice float64
	markPrice float64
	updatedAt time.Time
}

func NewTickerStream(cfg appconfig.ExchangeConfig) *TickerStream {
	return &TickerStream{
		cfg: cfg,
		log: logger.GetLogger(),
	}
}

// Start connects to the public stream and keeps the price current until the
// context is cancelled or Stop is called.
func (s *TickerStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("ticker stream already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	symbol := strings.ToUpper(strings.TrimSpace(s.cfg.Symbol))
	if symbol == "" {
		return fmt.Errorf("no symbol configured for ticker stream")
	}

	topic := "tickers." + symbol
	url := s.cfg.WebsocketURL()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runWebSocket(s.ctx, url, []string{topic}, s.log.WithComponent("bybit_ticker_stream"), s.handleMessage, s.trackConn)
	}()

	go s.monitorContext()

	s.log.WithComponent("bybit_ticker_stream").WithFields(logger.Fields{
		"url":   url,
		"topic": topic,
	}).Info("bybit ticker stream started")
	return nil
}

// Stop disconnects the stream and waits for the read loop to exit.
func (s *TickerStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.closeActiveConn()
	s.wg.Wait()
	s.log.WithComponent("bybit_ticker_stream").Info("bybit ticker stream stopped")
}

// Price returns the most recent price, when it was observed, and whether a
// price has been received at all. The mark price backs up a missing last
// trade.
func (s *TickerStream) Price() (float64, time.Time, bool) {
	s.priceMu.RLock()
	defer s.priceMu.RUnlock()

	price := s.lastPrice
	if price <= 0 {
		price = s.markPrice
	}
	if price <= 0 {
		return 0, time.Time{}, false
	}
	return price, s.updatedAt, true
}

func (s *TickerStream) monitorContext() {
	<-s.ctx.Done()
	s.Stop()
}

func (s *TickerStream) handleMessage(raw string) error {
	var ack struct {
		Op      string `json:"op"`
		Success bool   `json:"success"`
		RetMsg  string `json:"ret_msg"`
	}
	if err := json.Unmarshal([]byte(raw), &ack); err == nil && ack.Op != "" {
		if !ack.Success {
			s.log.WithComponent("bybit_ticker_stream").WithFields(logger.Fields{
				"op":      ack.Op,
				"message": ack.RetMsg,
			}).Warn("ticker subscription acknowledgement failure")
		}
		return nil
	}

	var payload tickerStreamPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	if !strings.HasPrefix(payload.Topic, "tickers") {
		return nil
	}
	if payload.Data.Symbol != "" && !strings.EqualFold(payload.Data.Symbol, s.cfg.Symbol) {
		return nil
	}

	ts := time.Now().UTC()
	if payload.Ts > 0 {
		ts = time.UnixMilli(payload.Ts).UTC()
	}

	s.priceMu.Lock()
	if v := parseNumber(payload.Data.LastPrice); v > 0 {
		s.lastPrice = v
	}
	if v := parseNumber(payload.Data.MarkPrice); v > 0 {
		s.markPrice = v
	}
	s.updatedAt = ts
	s.priceMu.Unlock()

	logger.RecordChannelMessage("ticker_stream", len(raw))
	return nil
}

func (s *TickerStream) trackConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.wsConn = conn
	s.connMu.Unlock()
}

func (s *TickerStream) closeActiveConn() {
	s.connMu.Lock()
	conn := s.wsConn
	s.wsConn = nil
	s.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
