// Package engine runs the periodic rebalancing cycle: it gathers market and
// account state through narrow collaborator interfaces, evaluates the
// indicators and the decider, executes the resulting instruction (or logs it
// in dry-run), reconciles the transaction log, and emits one journal record
// per completed cycle. Skipped ticks emit no record.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "github.com/yanapattin-source/bybit-rebalance-perp/config"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/channel"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/indicator"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/ledger"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/metrics"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/strategy"
	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// MarketData supplies candles and prices for the configured symbol.
type MarketData interface {
	Klines(ctx context.Context, limit int) ([]models.Candle, error)
	LastPrice(ctx context.Context) (float64, error)
}

// AccountData supplies position, wallet and transaction-log snapshots.
type AccountData interface {
	Position(ctx context.Context) (models.Position, error)
	AvailableMargin(ctx context.Context) (float64, error)
	TransactionLog(ctx context.Context, since time.Time, limit int) ([]models.LedgerEntry, error)
}

// OrderExecutor submits instructions to the exchange.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, instr models.TradeInstruction, price float64, market bool) (string, error)
	SetLeverage(ctx context.Context, leverage float64) error
}

// PriceCache is an optional push-fed price source consulted before falling
// back to a REST lookup.
type PriceCache interface {
	Price() (float64, time.Time, bool)
}

// PriceGuard is an optional cross-venue sanity check on the cycle price.
type PriceGuard interface {
	Check(ctx context.Context, price float64) (bool, float64)
}

// StateStore persists the ledger tracker between runs.
type StateStore interface {
	Load() (ledger.State, bool, error)
	Save(state ledger.State) error
}

// Deps are the collaborators injected into the engine. Market, Account and
// Channels are required; Orders is required unless dry-run is enabled.
// Stream, Guard and Store are optional.
type Deps struct {
	Market   MarketData
	Account  AccountData
	Orders   OrderExecutor
	Stream   PriceCache
	Guard    PriceGuard
	Store    StateStore
	Channels *channel.Channels
}

// OrderResult is the outcome of a bounded-retry order submission.
type OrderResult struct {
	OrderID  string
	Attempts int
	Err      error
}

func (r OrderResult) OK() bool {
	return r.Err == nil
}

// Engine owns the cycle loop. One cycle runs to completion before the next
// begins; the tracker and decider are confined to the loop goroutine.
type Engine struct {
	cfg         *appconfig.Config
	deps        Deps
	decider     *strategy.Decider
	indCfg      indicator.Config
	tracker     *ledger.Tracker
	candleLimit int
	log         *logger.Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// New validates the configuration and collaborators and restores any
// persisted ledger state. Malformed configuration fails here, never per tick.
func New(cfg *appconfig.Config, deps Deps) (*Engine, error) {
	if deps.Market == nil {
		return nil, fmt.Errorf("engine requires a market data source")
	}
	if deps.Account == nil {
		return nil, fmt.Errorf("engine requires an account data source")
	}
	if deps.Channels == nil {
		return nil, fmt.Errorf("engine requires a record channel")
	}
	if !cfg.Engine.DryRun && deps.Orders == nil {
		return nil, fmt.Errorf("engine requires an order executor when dry_run is disabled")
	}

	decider, err := strategy.New(strategy.Config{
		TargetNotional:   cfg.Strategy.TargetNotional,
		Leverage:         cfg.Strategy.Leverage,
		BaseTolerancePct: cfg.Strategy.BaseTolerancePct,
		QtyStep:          cfg.Strategy.QtyStep,
		MinTradeValue:    cfg.Strategy.MinTradeValue,
		AllowShort:       cfg.Strategy.AllowShort,
		VolReferencePct:  cfg.Strategy.VolReferencePct,
		VolScaleMin:      cfg.Strategy.VolScaleMin,
		VolScaleMax:      cfg.Strategy.VolScaleMax,
	})
	if err != nil {
		return nil, err
	}

	indCfg := indicator.Config{
		ATRLength:               cfg.Strategy.ATRLength,
		EMAShortLength:          cfg.Strategy.EMAShortLength,
		EMALongLength:           cfg.Strategy.EMALongLength,
		TrendStrengthMultiplier: cfg.Strategy.TrendStrengthMultiplier,
	}
	if err := indCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid indicator config: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		decider:     decider,
		indCfg:      indCfg,
		tracker:     ledger.NewTracker(),
		candleLimit: cfg.CandleLimit(),
		log:         logger.GetLogger(),
	}

	if deps.Store != nil {
		state, ok, err := deps.Store.Load()
		if err != nil {
			return nil, fmt.Errorf("restore ledger state: %w", err)
		}
		if ok {
			e.tracker.Restore(state)
			e.log.WithComponent("engine").WithFields(logger.Fields{
				"seen_entries": len(state.SeenIDs),
				"realized":     state.Realized,
				"funding_paid": state.FundingPaid,
				"fees_paid":    state.FeesPaid,
			}).Info("ledger state restored")
		}
	}

	return e, nil
}

// Start applies the configured leverage (live mode only, best effort) and
// launches the cycle loop. The first cycle runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	log := e.log.WithComponent("engine")

	if !e.cfg.Engine.DryRun {
		if err := e.deps.Orders.SetLeverage(e.ctx, e.cfg.Strategy.Leverage); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"leverage": e.cfg.Strategy.Leverage,
			}).Warn("failed to set leverage")
		} else {
			log.WithFields(logger.Fields{"leverage": e.cfg.Strategy.Leverage}).Info("leverage configured")
		}
	}

	e.wg.Add(1)
	go e.loop()

	log.WithFields(logger.Fields{
		"symbol":        e.cfg.Exchange.Symbol,
		"poll_interval": e.cfg.Engine.PollInterval,
		"dry_run":       e.cfg.Engine.DryRun,
		"price_source":  e.cfg.Engine.PriceSource,
	}).Info("engine started")
	return nil
}

// Stop halts the loop, waits for an in-flight cycle to finish and persists
// the final ledger state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.saveState("shutdown")
	e.log.WithComponent("engine").Info("engine stopped")
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Engine.PollInterval)
	defer ticker.Stop()

	e.runCycle()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runCycle()
		}
	}
}

// runCycle executes one decision cycle. Missing market or account data skips
// the tick without a journal row; everything downstream of a successful
// decision always produces exactly one row.
func (e *Engine) runCycle() {
	start := time.Now()
	logger.IncrementCycle()
	log := e.log.WithComponent("engine")

	ctx := e.ctx

	candles, err := e.deps.Market.Klines(ctx, e.candleLimit)
	if err != nil {
		e.skipTick("fetch_candles", err)
		return
	}

	price, err := e.currentPrice(ctx)
	if err != nil {
		e.skipTick("fetch_price", err)
		return
	}
	if price <= 0 {
		e.skipTick("price_unavailable", nil)
		return
	}

	if e.deps.Guard != nil {
		if ok, _ := e.deps.Guard.Check(ctx, price); !ok {
			e.skipTick("reference_divergence", nil)
			return
		}
	}

	snap := indicator.Compute(candles, price, e.indCfg)
	if !snap.Ready {
		e.skipTick("indicator_warmup", nil)
		return
	}

	pos, err := e.deps.Account.Position(ctx)
	if err != nil {
		e.skipTick("fetch_position", err)
		return
	}

	margin, err := e.deps.Account.AvailableMargin(ctx)
	if err != nil {
		e.skipTick("fetch_margin", err)
		return
	}

	decision := e.decider.Decide(price, snap, pos, margin)

	e.ingestLedger(ctx)

	rec := models.CycleRecord{
		Timestamp:        time.Now().UTC(),
		Symbol:           e.cfg.Exchange.Symbol,
		Action:           models.ActionNoAction,
		Side:             decision.Instruction.Side,
		Qty:              decision.Instruction.Qty,
		Price:            price,
		RealizedPnL:      e.tracker.Realized(),
		FundingPaid:      e.tracker.FundingPaid(),
		FeesPaid:         e.tracker.FeesPaid(),
		PositionQty:      decision.PositionQty,
		PositionNotional: decision.PositionNotional,
		Equity:           decision.Equity,
	}

	if decision.Instruction.Actionable() {
		rec.Action = e.execute(ctx, decision.Instruction, price, margin)
	}

	if !e.deps.Channels.SendRecord(ctx, rec) && ctx.Err() == nil {
		metrics.EmitDropMetric(e.log, metrics.DropMetricCycleRecords, e.cfg.Exchange.Symbol, "journal")
	}

	duration := time.Since(start)
	logger.LogPerformanceEntry(log, "engine", "cycle", duration, logger.Fields{
		"action": rec.Action,
		"side":   rec.Side,
	})
	metrics.EmitMetric(e.log, "engine", "cycle_duration_ms", float64(duration.Milliseconds()), "gauge", logger.Fields{
		"unit": "milliseconds",
	})
}

// currentPrice prefers a fresh streamed price when the stream source is
// configured, falling back to a REST lookup when the cache is stale or empty.
func (e *Engine) currentPrice(ctx context.Context) (float64, error) {
	if e.cfg.Engine.PriceSource == "stream" && e.deps.Stream != nil {
		if price, at, ok := e.deps.Stream.Price(); ok && time.Since(at) <= e.cfg.Engine.PollInterval {
			return price, nil
		}
	}
	return e.deps.Market.LastPrice(ctx)
}

// execute turns an actionable instruction into a journal action note. Live
// orders are blocked when the required margin exceeds the available balance.
func (e *Engine) execute(ctx context.Context, instr models.TradeInstruction, price, margin float64) string {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"side":        instr.Side,
		"qty":         instr.Qty,
		"price":       price,
		"reduce_only": instr.ReduceOnly,
	})

	if e.cfg.Engine.DryRun {
		log.Info("dry run, order not submitted")
		return models.ActionDryRun
	}

	needed := e.decider.MarginRequired(instr.Qty, price)
	if needed > margin {
		log.WithFields(logger.Fields{
			"margin_needed":    needed,
			"margin_available": margin,
		}).Warn("insufficient margin, order not submitted")
		return models.ActionInsufficientMargin
	}

	res := e.placeWithRetry(ctx, instr, price)
	if !res.OK() {
		logger.IncrementOrderFailed()
		log.WithError(res.Err).WithFields(logger.Fields{"attempts": res.Attempts}).Error("order failed")
		return models.ActionOrderFailed
	}

	logger.IncrementOrderPlaced()
	log.WithFields(logger.Fields{
		"order_id": res.OrderID,
		"attempts": res.Attempts,
	}).Info("order placed")
	return models.ActionOrderPlaced
}

// placeWithRetry submits the order up to the configured attempt count with a
// fixed delay between attempts, honouring cancellation between attempts.
func (e *Engine) placeWithRetry(ctx context.Context, instr models.TradeInstruction, price float64) OrderResult {
	attempts := e.cfg.Engine.MaxOrderRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		orderID, err := e.deps.Orders.PlaceOrder(ctx, instr, price, e.cfg.Engine.UseMarketOrders)
		if err == nil {
			return OrderResult{OrderID: orderID, Attempts: attempt}
		}
		lastErr = err
		e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{
			"attempt":      attempt,
			"max_attempts": attempts,
		}).Warn("order attempt failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return OrderResult{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(e.cfg.Engine.OrderRetryDelay):
			}
		}
	}
	return OrderResult{Attempts: attempts, Err: lastErr}
}

// ingestLedger folds the latest transaction-log page into the tracker. Fetch
// failures keep the previous totals; the cycle still records a row.
func (e *Engine) ingestLedger(ctx context.Context) {
	since := time.Now().Add(-e.cfg.Engine.LedgerLookback)
	entries, err := e.deps.Account.TransactionLog(ctx, since, e.cfg.Engine.LedgerPageLimit)
	if err != nil {
		e.log.WithComponent("engine").WithError(err).Warn("failed to fetch transaction log")
		return
	}

	applied := e.tracker.IngestBatch(entries)
	if applied > 0 {
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"applied": applied,
			"fetched": len(entries),
		}).Debug("ledger entries ingested")
		e.saveState("ledger_update")
	}
}

func (e *Engine) saveState(reason string) {
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.Save(e.tracker.Snapshot()); err != nil {
		e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{
			"reason": reason,
		}).Warn("failed to persist ledger state")
	}
}

// skipTick records a skipped cycle. Transport failures log at warn, data
// that is merely not ready yet logs at info; neither produces a journal row.
func (e *Engine) skipTick(reason string, err error) {
	logger.IncrementTickSkipped()

	entry := e.log.WithComponent("engine").WithFields(logger.Fields{"reason": reason})
	if err != nil {
		entry.WithError(err).Warn("tick skipped")
	} else {
		entry.Info("tick skipped")
	}

	metrics.EmitMetric(e.log, "engine", "ticks_skipped", 1, "counter", logger.Fields{})
}
