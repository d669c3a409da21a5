package quoting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/internal/risk"
	"github.com/coachpo/marketmaker/internal/schema"
)

func testConfig() Config {
	return Config{
		Symbol: "BTC-USDT",
		Limits: risk.Limits{
			MinSpreadBps:         decimal.NewFromInt(2),
			MaxSpreadBps:         decimal.NewFromInt(50),
			MaxPositionSize:      decimal.NewFromInt(10),
			MinOrderSize:         decimal.RequireFromString("0.01"),
			MaxOrderSize:         decimal.NewFromInt(2),
			MaxOpenOrdersPerSide: 1,
			RepriceThresholdBps:  decimal.NewFromInt(5),
			MaxDrawdownPct:       decimal.RequireFromString("0.2"),
		},
		TimeInForce: schema.TIFPostOnly,
	}
}

func tickState(fair string, orders ...schema.Order) TickState {
	return TickState{
		FairValue:   decimal.RequireFromString(fair),
		FairValueOK: true,
		Decision: risk.Decision{
			BidSpreadBps: decimal.NewFromInt(10),
			AskSpreadBps: decimal.NewFromInt(10),
			OrderSize:    decimal.NewFromInt(1),
		},
		ActiveOrders: orders,
	}
}

func working(id string, side schema.Side, price string) schema.Order {
	return schema.Order{
		ClientOrderID: id,
		Side:          side,
		Price:         decimal.RequireFromString(price),
		Quantity:      decimal.NewFromInt(1),
		Status:        schema.OrderStatusWorking,
	}
}

func TestIdleSidesGetQuotes(t *testing.T) {
	e := NewEngine(testConfig())

	actions := e.Reconcile(tickState("100"))
	require.Len(t, actions, 2)
	require.Equal(t, ActionPlace, actions[0].Type)
	require.Equal(t, schema.SideBuy, actions[0].Request.Side)
	require.True(t, actions[0].Request.Price.Equal(decimal.RequireFromString("99.9")), "bid = %s", actions[0].Request.Price)
	require.Equal(t, schema.SideSell, actions[1].Request.Side)
	require.True(t, actions[1].Request.Price.Equal(decimal.RequireFromString("100.1")), "ask = %s", actions[1].Request.Price)
	require.Equal(t, schema.TIFPostOnly, actions[0].Request.TimeInForce)
}

func TestNoFairValueNoActions(t *testing.T) {
	e := NewEngine(testConfig())
	require.Empty(t, e.Reconcile(TickState{FairValueOK: false}))
}

func TestRestingOrderWithinThresholdLeftAlone(t *testing.T) {
	e := NewEngine(testConfig())

	// Target bid is 99.9; a resting bid at 99.92 deviates ~2 bps, below the
	// 5 bps reprice threshold.
	actions := e.Reconcile(tickState("100",
		working("b1", schema.SideBuy, "99.92"),
		working("s1", schema.SideSell, "100.08")))
	require.Empty(t, actions)
}

func TestRepriceCancelsThenPlacesNextTick(t *testing.T) {
	e := NewEngine(testConfig())

	// Resting bid at 99.0 deviates ~90 bps from the 99.9 target.
	stale := working("b1", schema.SideBuy, "99.0")
	actions := e.Reconcile(tickState("100", stale, working("s1", schema.SideSell, "100.1")))
	require.Len(t, actions, 1)
	require.Equal(t, ActionCancel, actions[0].Type)
	require.Equal(t, "b1", actions[0].ClientOrderID)

	// Cancel still in flight: the order is still reported, no placement yet.
	actions = e.Reconcile(tickState("100", stale, working("s1", schema.SideSell, "100.1")))
	require.Empty(t, actionsOfType(actions, ActionPlace))

	// Cancel completed: the side is empty, so the quote is re-placed.
	actions = e.Reconcile(tickState("100", working("s1", schema.SideSell, "100.1")))
	require.Len(t, actions, 1)
	require.Equal(t, ActionPlace, actions[0].Type)
	require.Equal(t, schema.SideBuy, actions[0].Request.Side)
}

func TestNoDuplicatePlacementWhilePending(t *testing.T) {
	e := NewEngine(testConfig())
	pending := schema.Order{
		ClientOrderID: "b1",
		Side:          schema.SideBuy,
		Price:         decimal.RequireFromString("99.9"),
		Quantity:      decimal.NewFromInt(1),
		Status:        schema.OrderStatusPendingPlace,
	}

	actions := e.Reconcile(tickState("100", pending, working("s1", schema.SideSell, "100.1")))
	require.Empty(t, actionsOfType(actions, ActionPlace))
}

func TestHaltCancelsAllAndSuppressesQuotes(t *testing.T) {
	e := NewEngine(testConfig())

	state := tickState("100", working("b1", schema.SideBuy, "99.9"))
	state.Decision.Halt = true
	state.Decision.HaltReason = risk.HaltDrawdown

	actions := e.Reconcile(state)
	require.Len(t, actions, 1)
	require.Equal(t, ActionCancelAll, actions[0].Type)
	require.True(t, e.Halted())

	// Still halted, orders already gone: nothing further to emit.
	state.ActiveOrders = nil
	require.Empty(t, e.Reconcile(state))

	// Halt clears: quoting resumes.
	state.Decision.Halt = false
	actions = e.Reconcile(state)
	require.False(t, e.Halted())
	require.Len(t, actions, 2)
}

func TestPriceTickSnapping(t *testing.T) {
	cfg := testConfig()
	cfg.PriceTick = decimal.RequireFromString("0.5")
	e := NewEngine(cfg)

	actions := e.Reconcile(tickState("100"))
	require.Len(t, actions, 2)
	// Raw targets are 99.9 and 100.1; bids snap down, asks snap up.
	require.True(t, actions[0].Request.Price.Equal(decimal.RequireFromString("99.5")), "bid = %s", actions[0].Request.Price)
	require.True(t, actions[1].Request.Price.Equal(decimal.RequireFromString("100.5")), "ask = %s", actions[1].Request.Price)
}

func TestZeroSizeSkipsPlacement(t *testing.T) {
	e := NewEngine(testConfig())
	state := tickState("100")
	state.Decision.OrderSize = decimal.Zero
	require.Empty(t, e.Reconcile(state))
}

func actionsOfType(actions []Action, typ ActionType) []Action {
	var out []Action
	for _, a := range actions {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}
