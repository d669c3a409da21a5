// Package quoting decides, once per tick, whether to place, reprice, or
// leave resting orders on each book side. It performs no I/O; the engine
// executes the emitted actions through the lifecycle manager.
package quoting

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/internal/observability"
	"github.com/coachpo/marketmaker/internal/risk"
	"github.com/coachpo/marketmaker/internal/schema"
)

var (
	oneDec    = decimal.NewFromInt(1)
	bpsFactor = decimal.NewFromInt(10000)
)

// ActionType enumerates quoting decisions.
type ActionType string

const (
	// ActionPlace submits a new resting order.
	ActionPlace ActionType = "place"
	// ActionCancel cancels one resting order.
	ActionCancel ActionType = "cancel"
	// ActionCancelAll cancels every resting order.
	ActionCancelAll ActionType = "cancel_all"
)

// Action is one decision emitted by a tick.
type Action struct {
	Type          ActionType
	Request       schema.OrderRequest
	ClientOrderID string
	Reason        string
}

// TickState is the engine's input: a consistent snapshot of market, risk,
// and order state captured under the engine guard.
type TickState struct {
	// FairValue is the microprice-based quote anchor.
	FairValue decimal.Decimal
	// FairValueOK is false while the book cannot produce a fair value.
	FairValueOK bool
	// Decision carries this tick's risk outputs.
	Decision risk.Decision
	// ActiveOrders is the lifecycle manager's current order set.
	ActiveOrders []schema.Order
}

// Config tunes the quoting engine.
type Config struct {
	Symbol string
	Limits risk.Limits
	// PriceTick, when positive, snaps bid prices down and ask prices up to
	// the venue grid.
	PriceTick decimal.Decimal
	// TimeInForce applied to every quote; PostOnly keeps quotes passive.
	TimeInForce schema.TimeInForce
}

// Engine is the per-symbol quoting state machine.
type Engine struct {
	cfg    Config
	halted bool
	// cancelOutstanding marks sides whose reprice cancel was emitted this
	// tick; placement resumes the next tick, never alongside the cancel.
	cancelOutstanding map[schema.Side]bool
}

// NewEngine constructs a quoting engine.
func NewEngine(cfg Config) *Engine {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = schema.TIFPostOnly
	}
	return &Engine{cfg: cfg, cancelOutstanding: make(map[schema.Side]bool)}
}

// Halted reports whether quoting is currently suspended by a risk breach.
func (e *Engine) Halted() bool { return e.halted }

// Reconcile runs one tick of the state machine and returns the actions to
// execute. Halts cancel everything and suppress placements until the
// condition clears; the halted state is logged, never silent.
func (e *Engine) Reconcile(state TickState) []Action {
	if state.Decision.Halt {
		return e.reconcileHalted(state)
	}
	if e.halted {
		e.halted = false
		observability.Log().Info("risk halt cleared, quoting resumes",
			observability.F("symbol", e.cfg.Symbol))
	}
	if !state.FairValueOK || state.FairValue.Sign() <= 0 {
		return nil
	}

	bidTarget, askTarget := e.targets(state)
	actions := make([]Action, 0, 2)
	actions = append(actions, e.reconcileSide(schema.SideBuy, bidTarget, state)...)
	actions = append(actions, e.reconcileSide(schema.SideSell, askTarget, state)...)
	return actions
}

func (e *Engine) reconcileHalted(state TickState) []Action {
	if !e.halted {
		e.halted = true
		pos := state.Decision.Position
		observability.Log().Warn("risk halt engaged, cancelling all quotes",
			observability.F("symbol", e.cfg.Symbol),
			observability.F("reason", string(state.Decision.HaltReason)),
			observability.F("inventory", pos.Size),
			observability.F("total_pnl", pos.TotalPnl()),
			observability.F("peak_pnl", pos.PeakPnl))
		observability.Telemetry().IncCounter("quoting.halts", 1,
			map[string]string{"reason": string(state.Decision.HaltReason)})
	}
	for side := range e.cancelOutstanding {
		delete(e.cancelOutstanding, side)
	}
	if len(state.ActiveOrders) == 0 {
		return nil
	}
	return []Action{{Type: ActionCancelAll, Reason: string(state.Decision.HaltReason)}}
}

func (e *Engine) targets(state TickState) (bid, ask decimal.Decimal) {
	fair := state.FairValue
	bid = fair.Mul(oneDec.Sub(state.Decision.BidSpreadBps.Div(bpsFactor)))
	ask = fair.Mul(oneDec.Add(state.Decision.AskSpreadBps.Div(bpsFactor)))
	if e.cfg.PriceTick.Sign() > 0 {
		bid = snapDown(bid, e.cfg.PriceTick)
		ask = snapUp(ask, e.cfg.PriceTick)
	}
	return bid, ask
}

func (e *Engine) reconcileSide(side schema.Side, target decimal.Decimal, state TickState) []Action {
	resting := ordersOn(side, state.ActiveOrders)

	// A cancel emitted last tick has either completed (order gone) or is
	// still in flight; either way the flag is consumed now.
	cancelWasOutstanding := e.cancelOutstanding[side]
	delete(e.cancelOutstanding, side)

	var actions []Action
	for _, order := range resting {
		if order.Status != schema.OrderStatusWorking && order.Status != schema.OrderStatusPartiallyFilled {
			continue
		}
		if deviationBps(order.Price, target).GreaterThan(e.cfg.Limits.RepriceThresholdBps) {
			e.cancelOutstanding[side] = true
			actions = append(actions, Action{
				Type:          ActionCancel,
				ClientOrderID: order.ClientOrderID,
				Reason:        "reprice",
			})
		}
	}
	if len(actions) > 0 || cancelWasOutstanding && len(resting) > 0 {
		return actions
	}

	// Placement: only when the side is empty of live or in-flight orders,
	// below the per-side cap, and no equal-priced quote already rests.
	if len(resting) >= e.cfg.Limits.MaxOpenOrdersPerSide {
		return actions
	}
	for _, order := range resting {
		if order.Status == schema.OrderStatusPendingPlace {
			return actions
		}
		if order.Price.Equal(target) {
			return actions
		}
	}
	if len(resting) > 0 {
		return actions
	}
	if state.Decision.OrderSize.Sign() <= 0 {
		return actions
	}

	actions = append(actions, Action{
		Type: ActionPlace,
		Request: schema.OrderRequest{
			Symbol:      e.cfg.Symbol,
			Side:        side,
			Price:       target,
			Quantity:    state.Decision.OrderSize,
			TimeInForce: e.cfg.TimeInForce,
		},
		Reason: "quote",
	})
	return actions
}

func ordersOn(side schema.Side, orders []schema.Order) []schema.Order {
	out := make([]schema.Order, 0, len(orders))
	for _, order := range orders {
		if order.Side == side {
			out = append(out, order)
		}
	}
	return out
}

func deviationBps(price, target decimal.Decimal) decimal.Decimal {
	if target.Sign() == 0 {
		return decimal.Zero
	}
	return price.Sub(target).Abs().Div(target).Mul(bpsFactor)
}

func snapDown(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Floor().Mul(tick)
}

func snapUp(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Ceil().Mul(tick)
}
