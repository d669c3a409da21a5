package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/internal/schema"
)

// Position tracks signed inventory and PnL for one symbol. Positive size is
// long. Mutated by fills and venue position updates; read by the quote math.
type Position struct {
	Size          decimal.Decimal
	AvgEntryPrice decimal.Decimal
	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal
	PeakPnl       decimal.Decimal
	UpdatedAt     time.Time
}

// TotalPnl returns realized plus unrealized PnL.
func (p Position) TotalPnl() decimal.Decimal {
	return p.RealizedPnl.Add(p.UnrealizedPnl)
}

// ApplyFill folds one execution into the position: increasing fills move the
// average entry price, reducing fills realize PnL against it. Fees reduce
// realized PnL. PeakPnl ratchets upward.
func (p *Position) ApplyFill(fill schema.Fill) {
	signedQty := fill.FilledQty
	if fill.Side == schema.SideSell {
		signedQty = signedQty.Neg()
	}

	switch {
	case p.Size.IsZero() || p.Size.Sign() == signedQty.Sign():
		// Opening or increasing: blend the average entry price.
		oldNotional := p.AvgEntryPrice.Mul(p.Size.Abs())
		addNotional := fill.FillPrice.Mul(fill.FilledQty)
		newSize := p.Size.Add(signedQty)
		if newSize.Sign() != 0 {
			p.AvgEntryPrice = oldNotional.Add(addNotional).Div(newSize.Abs())
		}
		p.Size = newSize
	default:
		// Reducing or flipping: realize PnL on the closed quantity.
		closed := decimal.Min(p.Size.Abs(), fill.FilledQty)
		pnlPerUnit := fill.FillPrice.Sub(p.AvgEntryPrice)
		if p.Size.Sign() < 0 {
			pnlPerUnit = pnlPerUnit.Neg()
		}
		p.RealizedPnl = p.RealizedPnl.Add(pnlPerUnit.Mul(closed))

		p.Size = p.Size.Add(signedQty)
		if p.Size.IsZero() {
			p.AvgEntryPrice = decimal.Zero
		} else if p.Size.Sign() == signedQty.Sign() {
			// Flipped through flat: the remainder opens at the fill price.
			p.AvgEntryPrice = fill.FillPrice
		}
	}

	p.RealizedPnl = p.RealizedPnl.Sub(fill.FeeAmount)
	p.ratchetPeak()
	p.UpdatedAt = fill.Timestamp
}

// ApplyUpdate replaces the venue-authoritative fields from a position
// update, keeping locally accumulated realized PnL.
func (p *Position) ApplyUpdate(update schema.PositionUpdate) {
	size := update.Size
	if update.Side == schema.SideSell {
		size = size.Neg()
	}
	p.Size = size
	p.AvgEntryPrice = update.AvgEntryPrice
	p.UnrealizedPnl = update.UnrealizedPnl
	p.ratchetPeak()
	p.UpdatedAt = update.Timestamp
}

func (p *Position) ratchetPeak() {
	if total := p.TotalPnl(); total.GreaterThan(p.PeakPnl) {
		p.PeakPnl = total
	}
}
