// Package risk computes quote parameters and enforces position and drawdown
// limits for the market maker.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/errs"
)

// Limits defines the risk parameters for a single run. Immutable once loaded.
type Limits struct {
	// MinSpreadBps and MaxSpreadBps clamp every quoted spread leg.
	MinSpreadBps decimal.Decimal `yaml:"minSpreadBps"`
	MaxSpreadBps decimal.Decimal `yaml:"maxSpreadBps"`

	// MaxPositionSize is the maximum absolute inventory, in contracts.
	MaxPositionSize decimal.Decimal `yaml:"maxPositionSize"`

	// MinOrderSize and MaxOrderSize clamp every quoted order size.
	MinOrderSize decimal.Decimal `yaml:"minOrderSize"`
	MaxOrderSize decimal.Decimal `yaml:"maxOrderSize"`

	// MaxOpenOrdersPerSide bounds resting orders per book side.
	MaxOpenOrdersPerSide int `yaml:"maxOpenOrdersPerSide"`

	// RepriceThresholdBps is the minimum deviation between a resting order
	// and its target price before it is cancelled and re-placed.
	RepriceThresholdBps decimal.Decimal `yaml:"repriceThresholdBps"`

	// MaxDrawdownPct halts quoting when PnL falls this fraction below peak.
	MaxDrawdownPct decimal.Decimal `yaml:"maxDrawdownPct"`

	// OrderThrottle is the maximum rate of outbound orders per second.
	OrderThrottle float64 `yaml:"orderThrottle"`
}

// Validate checks internal consistency of the limits.
func (l Limits) Validate() error {
	if l.MinSpreadBps.Sign() <= 0 || l.MaxSpreadBps.LessThan(l.MinSpreadBps) {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("spread bounds must satisfy 0 < min <= max"))
	}
	if l.MaxPositionSize.Sign() <= 0 {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("maxPositionSize must be positive"))
	}
	if l.MinOrderSize.Sign() <= 0 || l.MaxOrderSize.LessThan(l.MinOrderSize) {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("order size bounds must satisfy 0 < min <= max"))
	}
	if l.MaxOpenOrdersPerSide <= 0 {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("maxOpenOrdersPerSide must be positive"))
	}
	if l.RepriceThresholdBps.Sign() <= 0 {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("repriceThresholdBps must be positive"))
	}
	if l.MaxDrawdownPct.Sign() <= 0 || l.MaxDrawdownPct.GreaterThan(decimal.NewFromInt(1)) {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("maxDrawdownPct must be in (0, 1]"))
	}
	if l.OrderThrottle <= 0 {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("orderThrottle must be positive"))
	}
	return nil
}
