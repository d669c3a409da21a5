// Package engine owns the per-symbol shared state and runs the two
// execution contexts of the market maker: the stream consumer applying
// inbound events and the periodic tick loop issuing quoting decisions.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/marketmaker/internal/book"
	"github.com/coachpo/marketmaker/internal/exchange"
	"github.com/coachpo/marketmaker/internal/lifecycle"
	"github.com/coachpo/marketmaker/internal/observability"
	"github.com/coachpo/marketmaker/internal/quoting"
	"github.com/coachpo/marketmaker/internal/resilience"
	"github.com/coachpo/marketmaker/internal/risk"
	"github.com/coachpo/marketmaker/internal/schema"
	"github.com/coachpo/marketmaker/internal/signals"
)

// FillRecorder persists executions outside the hot path. Implementations
// must tolerate being called concurrently.
type FillRecorder interface {
	RecordFill(ctx context.Context, fill schema.Fill) error
}

// Config tunes the engine loops.
type Config struct {
	Symbol string `yaml:"symbol"`
	// TickInterval is the quoting cadence.
	TickInterval time.Duration `yaml:"tickInterval"`
	// SignalWindow is the rolling sample capacity for volatility.
	SignalWindow int `yaml:"signalWindow"`
	// Depth is the level count for microprice and imbalance.
	Depth int `yaml:"depth"`
	// BaseSpreadBps is the configured resting spread per leg.
	BaseSpreadBps decimal.Decimal `yaml:"baseSpreadBps"`
	// BaseOrderSize is the configured quote size before risk scaling.
	BaseOrderSize decimal.Decimal `yaml:"baseOrderSize"`
	// PriceTick, when positive, snaps quotes to the venue price grid.
	PriceTick decimal.Decimal `yaml:"priceTick"`
	// ReconcileEveryTicks is the cadence of order reconciliation.
	ReconcileEveryTicks int `yaml:"reconcileEveryTicks"`
	// OrderCallTimeout bounds each outbound order call.
	OrderCallTimeout time.Duration `yaml:"orderCallTimeout"`
	// ShutdownTimeout bounds the final best-effort cancel-all.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.SignalWindow <= 0 {
		c.SignalWindow = 120
	}
	if c.Depth <= 0 {
		c.Depth = 5
	}
	if c.ReconcileEveryTicks <= 0 {
		c.ReconcileEveryTicks = 20
	}
	if c.OrderCallTimeout <= 0 {
		c.OrderCallTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Engine wires the book, signals, risk, quoting, and lifecycle components
// for one symbol.
type Engine struct {
	cfg     Config
	book    *book.OrderBook
	signals *signals.MarketSignals
	riskMgr *risk.Manager
	quoter  *quoting.Engine
	orders  *lifecycle.Manager
	rest    exchange.RestClient
	guard   *resilience.Guard

	recorder FillRecorder
	fillsOut chan schema.Fill

	// paused suspends quoting while the book awaits resynchronization.
	paused atomic.Bool
}

// New constructs an engine. recorder may be nil when fill persistence is
// disabled.
func New(cfg Config, riskMgr *risk.Manager, orders *lifecycle.Manager, rest exchange.RestClient, guard *resilience.Guard, recorder FillRecorder) *Engine {
	cfg = cfg.withDefaults()
	quoter := quoting.NewEngine(quoting.Config{
		Symbol:      cfg.Symbol,
		Limits:      riskMgr.Limits(),
		PriceTick:   cfg.PriceTick,
		TimeInForce: schema.TIFPostOnly,
	})
	return &Engine{
		cfg:      cfg,
		book:     book.New(cfg.Symbol),
		signals:  signals.New(cfg.SignalWindow),
		riskMgr:  riskMgr,
		quoter:   quoter,
		orders:   orders,
		rest:     rest,
		guard:    guard,
		recorder: recorder,
		fillsOut: make(chan schema.Fill, 256),
	}
}

// Book exposes the order book for inspection.
func (e *Engine) Book() *book.OrderBook { return e.book }

// Run blocks until ctx is cancelled or the event stream closes, then issues
// a best-effort cancel-all before returning.
func (e *Engine) Run(ctx context.Context, events <-chan exchange.Event) error {
	runCtx, cancel := context.WithCancel(ctx)

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		e.consumeEvents(runCtx, events)
	})
	wg.Go(func() {
		defer cancel()
		e.tickLoop(runCtx)
	})
	if e.recorder != nil {
		wg.Go(func() { e.recordFills(runCtx) })
	}
	wg.Wait()
	cancel()

	e.shutdownCancelAll()
	return ctx.Err()
}

// consumeEvents applies stream events in arrival order. Ordering and
// staleness are enforced by the book's sequence gating.
func (e *Engine) consumeEvents(ctx context.Context, events <-chan exchange.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				observability.Log().Info("event stream closed",
					observability.F("symbol", e.cfg.Symbol))
				return
			}
			e.applyEvent(ctx, event)
		}
	}
}

func (e *Engine) applyEvent(ctx context.Context, event exchange.Event) {
	switch event.Kind {
	case exchange.KindBookSnapshot:
		e.book.ApplySnapshot(*event.Snapshot)
		e.paused.Store(false)
		observability.Telemetry().IncCounter("book.snapshots", 1, nil)

	case exchange.KindBookDelta:
		err := e.book.ApplyDelta(*event.Delta)
		switch {
		case errors.Is(err, book.ErrStaleUpdate):
			observability.Log().Debug("dropping stale book delta",
				observability.F("update_id", event.Delta.UpdateID),
				observability.F("book_id", e.book.UpdateID()))
			observability.Telemetry().IncCounter("book.stale_drops", 1, nil)
		case errors.Is(err, book.ErrCrossedBook):
			observability.Log().Warn("crossed book detected, forcing resynchronization",
				observability.F("symbol", e.cfg.Symbol),
				observability.F("update_id", event.Delta.UpdateID))
			e.resync(ctx)
		case err == nil:
			observability.Telemetry().IncCounter("book.deltas", 1, nil)
		}

	case exchange.KindFill:
		e.orders.ApplyFill(*event.Fill)
		e.riskMgr.ApplyFill(*event.Fill)
		if e.recorder != nil {
			select {
			case e.fillsOut <- *event.Fill:
			default:
				observability.Log().Warn("fill recorder backlog full, dropping record",
					observability.F("client_order_id", event.Fill.ClientOrderID))
			}
		}

	case exchange.KindPosition:
		e.riskMgr.ApplyPositionUpdate(*event.Position)

	case exchange.KindReconnected:
		observability.Log().Info("stream session established, resynchronizing",
			observability.F("symbol", e.cfg.Symbol))
		e.resync(ctx)
	}
}

// resync pauses quoting and rebuilds the book from a REST snapshot. The
// pause stays in place until a snapshot applies.
func (e *Engine) resync(ctx context.Context) {
	e.paused.Store(true)
	observability.Telemetry().IncCounter("book.resyncs", 1, nil)
	started := time.Now()
	defer func() {
		observability.Telemetry().ObserveHistogram("book.resync.duration", durationMillis(started), nil)
	}()

	callCtx, cancelCall := context.WithTimeout(ctx, e.cfg.OrderCallTimeout)
	defer cancelCall()

	var snap schema.BookSnapshot
	err := e.guard.Do(callCtx, exchange.EndpointGetBookSnapshot, func(ctx context.Context) error {
		var callErr error
		snap, callErr = e.rest.GetBookSnapshot(ctx, e.cfg.Symbol)
		return callErr
	})
	if err != nil {
		observability.Log().Error("book resynchronization failed, quoting stays paused",
			observability.F("symbol", e.cfg.Symbol),
			observability.F("error", err))
		return
	}
	e.book.ApplySnapshot(snap)
	e.paused.Store(false)
	observability.Log().Info("book resynchronized",
		observability.F("symbol", e.cfg.Symbol),
		observability.F("update_id", snap.UpdateID))

	e.syncPosition(ctx)
}

// syncPosition seeds the tracked position from the venue so quoting after a
// restart or reconnect does not assume flat inventory.
func (e *Engine) syncPosition(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderCallTimeout)
	defer cancel()

	var pos schema.PositionUpdate
	err := e.guard.Do(callCtx, exchange.EndpointGetPosition, func(ctx context.Context) error {
		var callErr error
		pos, callErr = e.rest.GetPosition(ctx, e.cfg.Symbol)
		return callErr
	})
	if err != nil {
		observability.Log().Warn("position sync failed, keeping local view",
			observability.F("symbol", e.cfg.Symbol),
			observability.F("error", err))
		return
	}
	e.riskMgr.ApplyPositionUpdate(pos)
}

// tickLoop issues quoting decisions at a fixed cadence, reading a
// consistent snapshot of market and order state and executing the emitted
// actions outside any guard.
func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	tickCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCount++
			e.tick(ctx)
			if tickCount%e.cfg.ReconcileEveryTicks == 0 {
				e.reconcileOrders(ctx)
			}
		}
	}
}

// Tick runs one quoting cycle. Exported for deterministic tests; Run drives
// it from the ticker.
func (e *Engine) Tick(ctx context.Context) {
	e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) {
	if e.paused.Load() {
		observability.Log().Debug("tick skipped, book resynchronizing",
			observability.F("symbol", e.cfg.Symbol))
		return
	}
	started := time.Now()
	defer func() {
		observability.Telemetry().ObserveHistogram("engine.tick.duration", durationMillis(started), nil)
	}()

	mid, midOK := e.book.MidPrice()
	spread, _ := e.book.SpreadBps()
	imbalance := e.book.Imbalance(e.cfg.Depth)
	if midOK {
		e.signals.Observe(mid, spread, imbalance, time.Now())
	}

	fair, fairOK := e.book.Microprice(e.cfg.Depth)
	if !fairOK && midOK {
		fair, fairOK = mid, true
	}

	decision := e.riskMgr.Evaluate(
		e.signals.Volatility(),
		e.signals.ImbalanceTrend(),
		e.cfg.BaseSpreadBps,
		e.cfg.BaseOrderSize,
	)

	state := quoting.TickState{
		FairValue:    fair,
		FairValueOK:  fairOK,
		Decision:     decision,
		ActiveOrders: e.orders.ActiveOrders(),
	}
	for _, action := range e.quoter.Reconcile(state) {
		e.execute(ctx, action)
	}
}

func (e *Engine) execute(ctx context.Context, action quoting.Action) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderCallTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		observability.Telemetry().ObserveHistogram("order.call.duration", durationMillis(started),
			map[string]string{"action": string(action.Type)})
	}()

	switch action.Type {
	case quoting.ActionPlace:
		if err := e.riskMgr.CheckOrder(callCtx, action.Request); err != nil {
			observability.Log().Warn("placement blocked by risk check",
				observability.F("side", string(action.Request.Side)),
				observability.F("error", err))
			return
		}
		if _, err := e.orders.Place(callCtx, action.Request); err != nil {
			observability.Log().Warn("quote placement failed",
				observability.F("side", string(action.Request.Side)),
				observability.F("price", action.Request.Price),
				observability.F("error", err))
		}
	case quoting.ActionCancel:
		if err := e.orders.Cancel(callCtx, action.ClientOrderID); err != nil {
			observability.Log().Warn("quote cancel failed",
				observability.F("client_order_id", action.ClientOrderID),
				observability.F("error", err))
		}
	case quoting.ActionCancelAll:
		if err := e.orders.CancelAll(callCtx); err != nil {
			observability.Log().Error("cancel-all failed",
				observability.F("reason", action.Reason),
				observability.F("error", err))
		}
	}
}

func (e *Engine) reconcileOrders(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderCallTimeout)
	defer cancel()
	if err := e.orders.Reconcile(callCtx); err != nil {
		observability.Log().Warn("order reconciliation failed",
			observability.F("error", err))
	}
}

func (e *Engine) recordFills(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-e.fillsOut:
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderCallTimeout)
			if err := e.recorder.RecordFill(callCtx, f); err != nil {
				observability.Log().Warn("fill persistence failed",
					observability.F("client_order_id", f.ClientOrderID),
					observability.F("error", err))
			}
			cancel()
		}
	}
}

func durationMillis(started time.Time) float64 {
	return float64(time.Since(started)) / float64(time.Millisecond)
}

// shutdownCancelAll makes one best-effort attempt to pull every resting
// order before exit. Failures are logged, not retried; the process is
// terminating.
func (e *Engine) shutdownCancelAll() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	observability.Log().Info("shutting down, cancelling open orders",
		observability.F("symbol", e.cfg.Symbol),
		observability.F("open_orders", len(e.orders.ActiveOrders())))
	if err := e.orders.CancelAll(ctx); err != nil {
		observability.Log().Error("final cancel-all failed",
			observability.F("symbol", e.cfg.Symbol),
			observability.F("error", err))
	}
}
