package risk

import (
	"github.com/shopspring/decimal"
)

// Spread-widening coefficient applied to the volatility estimate (stdev of
// log returns), converting the fractional estimate into basis points.
const volSpreadCoefficientBps = 10000.0

// Volatility dampening for order sizing: size shrinks as 1/(1 + vol*coeff).
const volSizeCoefficient = 500.0

// Floor for inventory-based size decay, as a fraction of base size.
var sizeDecayFloor = decimal.RequireFromString("0.1")

// QuoteInputs carries the market and inventory state the quote math reads.
type QuoteInputs struct {
	// Inventory is the signed position size; positive is long.
	Inventory decimal.Decimal
	// Volatility is the rolling stdev of mid log returns.
	Volatility float64
	// Imbalance is the book imbalance trend in [-1, 1].
	Imbalance float64
	// BaseSpreadBps is the configured resting spread per leg.
	BaseSpreadBps decimal.Decimal
	// BaseOrderSize is the configured quote size before scaling.
	BaseOrderSize decimal.Decimal
}

func (in QuoteInputs) inventoryRatio(limits Limits) decimal.Decimal {
	if limits.MaxPositionSize.Sign() <= 0 {
		return decimal.Zero
	}
	ratio := in.Inventory.Abs().Div(limits.MaxPositionSize)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return ratio
}

// DynamicSpread returns the bid and ask spread legs in basis points. Both
// legs start from the base spread widened by the volatility term, then skew
// asymmetrically with inventory: a long position quotes a wider ask leg and
// a tighter bid leg, proportionally to |inventory|/MaxPositionSize. Both
// outputs are clamped to [MinSpreadBps, MaxSpreadBps].
func DynamicSpread(in QuoteInputs, limits Limits) (bidSpreadBps, askSpreadBps decimal.Decimal) {
	volTerm := decimal.NewFromFloat(in.Volatility * volSpreadCoefficientBps)
	base := in.BaseSpreadBps.Add(volTerm)

	skew := base.Mul(in.inventoryRatio(limits))
	if in.Inventory.Sign() >= 0 {
		bidSpreadBps = base.Sub(skew)
		askSpreadBps = base.Add(skew)
	} else {
		bidSpreadBps = base.Add(skew)
		askSpreadBps = base.Sub(skew)
	}

	bidSpreadBps = clamp(bidSpreadBps, limits.MinSpreadBps, limits.MaxSpreadBps)
	askSpreadBps = clamp(askSpreadBps, limits.MinSpreadBps, limits.MaxSpreadBps)
	return bidSpreadBps, askSpreadBps
}

// OrderSize returns the quote size: the base size decayed linearly toward a
// floor as |inventory| approaches MaxPositionSize, scaled down inversely
// with volatility, then clamped to [MinOrderSize, MaxOrderSize].
func OrderSize(in QuoteInputs, limits Limits) decimal.Decimal {
	one := decimal.NewFromInt(1)
	decay := one.Sub(in.inventoryRatio(limits).Mul(one.Sub(sizeDecayFloor)))
	size := in.BaseOrderSize.Mul(decay)

	if in.Volatility > 0 {
		damp := decimal.NewFromFloat(1.0 / (1.0 + in.Volatility*volSizeCoefficient))
		size = size.Mul(damp)
	}

	return clamp(size, limits.MinOrderSize, limits.MaxOrderSize)
}

// HaltReason names why quoting must stop.
type HaltReason string

const (
	// HaltNone means quoting may continue.
	HaltNone HaltReason = ""
	// HaltDrawdown means PnL fell too far below its peak.
	HaltDrawdown HaltReason = "drawdown"
	// HaltPosition means inventory reached the position limit.
	HaltPosition HaltReason = "position_limit"
)

// ShouldHalt evaluates the drawdown and position-limit rules against the
// current position. The drawdown rule only applies once PeakPnl is positive.
func ShouldHalt(pos Position, limits Limits) (bool, HaltReason) {
	if pos.PeakPnl.Sign() > 0 {
		drawdown := pos.PeakPnl.Sub(pos.TotalPnl()).Div(pos.PeakPnl)
		if drawdown.GreaterThan(limits.MaxDrawdownPct) {
			return true, HaltDrawdown
		}
	}
	if pos.Size.Abs().GreaterThanOrEqual(limits.MaxPositionSize) {
		return true, HaltPosition
	}
	return false, HaltNone
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
