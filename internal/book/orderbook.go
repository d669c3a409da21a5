package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/schema"
)

var (
	// ErrStaleUpdate indicates a delta whose sequence id does not advance
	// the book. Callers drop the delta; it is not fatal.
	ErrStaleUpdate = errs.New("book", errs.CodeStale, errs.WithMessage("delta sequence id does not advance the book"))
	// ErrCrossedBook indicates bestBid >= bestAsk after a valid-sequence
	// update. The book must be resynchronized from a fresh snapshot.
	ErrCrossedBook = errs.New("book", errs.CodeCorrupt, errs.WithMessage("best bid crossed best ask"))
	// ErrInsufficientLiquidity indicates the resting book cannot absorb the
	// requested size.
	ErrInsufficientLiquidity = errs.New("book", errs.CodeInvalid, errs.WithMessage("insufficient resting liquidity"))
)

var bpsFactor = decimal.NewFromInt(10000)

// SlippageEstimate reports the projected cost of sweeping the book.
type SlippageEstimate struct {
	AvgFillPrice decimal.Decimal
	SlippageBps  decimal.Decimal
	FilledQty    decimal.Decimal
}

// OrderBook reconstructs one symbol's limit order book from a snapshot plus
// a strictly ordered stream of deltas.
type OrderBook struct {
	mu         sync.Mutex
	symbol     string
	bids       *PriceLevelStore
	asks       *PriceLevelStore
	updateID   uint64
	lastUpdate time.Time
}

// New constructs an empty book for symbol.
func New(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   NewPriceLevelStore(schema.SideBuy),
		asks:   NewPriceLevelStore(schema.SideSell),
	}
}

// Symbol returns the instrument this book tracks.
func (b *OrderBook) Symbol() string { return b.symbol }

// UpdateID returns the sequence id of the last applied update.
func (b *OrderBook) UpdateID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateID
}

// ApplySnapshot atomically replaces both sides and resets the sequence id.
// It always succeeds and clears any previous state.
func (b *OrderBook) ApplySnapshot(snap schema.BookSnapshot) {
	at := snap.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Clear()
	b.asks.Clear()
	for _, lvl := range snap.Bids {
		b.bids.Upsert(lvl.Price, lvl.Quantity, at)
	}
	for _, lvl := range snap.Asks {
		b.asks.Upsert(lvl.Price, lvl.Quantity, at)
	}
	b.updateID = snap.UpdateID
	b.lastUpdate = at
}

// ApplyDelta applies one incremental update. Deltas whose UpdateID does not
// advance the book return ErrStaleUpdate and leave state untouched. A crossed
// book after a valid-sequence apply returns ErrCrossedBook; the caller must
// force a snapshot resynchronization.
func (b *OrderBook) ApplyDelta(delta schema.BookDelta) error {
	at := delta.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if delta.UpdateID <= b.updateID {
		return ErrStaleUpdate
	}
	for _, lvl := range delta.Bids {
		b.bids.Upsert(lvl.Price, lvl.Quantity, at)
	}
	for _, lvl := range delta.Asks {
		b.asks.Upsert(lvl.Price, lvl.Quantity, at)
	}
	b.updateID = delta.UpdateID
	b.lastUpdate = at

	if b.crossedLocked() {
		return ErrCrossedBook
	}
	return nil
}

func (b *OrderBook) crossedLocked() bool {
	bid, okBid := b.bids.Best()
	ask, okAsk := b.asks.Best()
	if !okBid || !okAsk {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// BestBid returns the highest resting bid level.
func (b *OrderBook) BestBid() (schema.PriceLevel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.Best()
}

// BestAsk returns the lowest resting ask level.
func (b *OrderBook) BestAsk() (schema.PriceLevel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asks.Best()
}

// MidPrice returns the arithmetic midpoint of the best bid and ask, or
// ok=false when either side is empty.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.midLocked()
}

func (b *OrderBook) midLocked() (decimal.Decimal, bool) {
	bid, okBid := b.bids.Best()
	ask, okAsk := b.asks.Best()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// SpreadBps returns the bid/ask spread in basis points of the mid, or
// ok=false when either side is empty.
func (b *OrderBook) SpreadBps() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bid, okBid := b.bids.Best()
	ask, okAsk := b.asks.Best()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	mid, _ := b.midLocked()
	if mid.Sign() == 0 {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price).Div(mid).Mul(bpsFactor), true
}

// Microprice returns the liquidity-weighted fair value over the top depth
// levels. Each side's volume-weighted price is weighted by the opposite
// side's resting volume, so heavier resting size pulls the estimate toward
// the lighter side. Falls back to mid when a side has no volume.
func (b *OrderBook) Microprice(depth int) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bidLevels := b.bids.Top(depth)
	askLevels := b.asks.Top(depth)
	if len(bidLevels) == 0 || len(askLevels) == 0 {
		return decimal.Zero, false
	}

	bidPx, bidVol := sideVWAP(bidLevels)
	askPx, askVol := sideVWAP(askLevels)
	total := bidVol.Add(askVol)
	if total.Sign() == 0 {
		return b.midLocked()
	}
	return bidPx.Mul(askVol).Add(askPx.Mul(bidVol)).Div(total), true
}

func sideVWAP(levels []schema.PriceLevel) (price, volume decimal.Decimal) {
	notional := decimal.Zero
	volume = decimal.Zero
	for _, lvl := range levels {
		notional = notional.Add(lvl.Price.Mul(lvl.Quantity))
		volume = volume.Add(lvl.Quantity)
	}
	if volume.Sign() == 0 {
		return decimal.Zero, volume
	}
	return notional.Div(volume), volume
}

// Imbalance returns (bidVol - askVol) / (bidVol + askVol) over the top depth
// levels, in [-1, 1]. Zero when both sides are empty.
func (b *OrderBook) Imbalance(depth int) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	bidVol := b.bids.Volume(depth)
	askVol := b.asks.Volume(depth)
	total := bidVol.Add(askVol)
	if total.Sign() == 0 {
		return decimal.Zero
	}
	return bidVol.Sub(askVol).Div(total)
}

// EstimateSlippage walks the side a taker order of the given direction would
// sweep, accumulating fills until size is exhausted. It returns the average
// fill price and slippage in bps versus the best price, or
// ErrInsufficientLiquidity when the book cannot absorb the size.
func (b *OrderBook) EstimateSlippage(size decimal.Decimal, side schema.Side) (SlippageEstimate, error) {
	if size.Sign() <= 0 {
		return SlippageEstimate{}, errs.New("book", errs.CodeInvalid, errs.WithMessage("slippage size must be positive"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	store := b.asks
	if side == schema.SideSell {
		store = b.bids
	}
	best, ok := store.Best()
	if !ok {
		return SlippageEstimate{}, ErrInsufficientLiquidity
	}

	remaining := size
	notional := decimal.Zero
	store.WalkBest(func(level schema.PriceLevel) bool {
		take := decimal.Min(remaining, level.Quantity)
		notional = notional.Add(take.Mul(level.Price))
		remaining = remaining.Sub(take)
		return remaining.Sign() > 0
	})
	if remaining.Sign() > 0 {
		return SlippageEstimate{FilledQty: size.Sub(remaining)}, ErrInsufficientLiquidity
	}

	avg := notional.Div(size)
	slip := avg.Sub(best.Price).Abs().Div(best.Price).Mul(bpsFactor)
	return SlippageEstimate{AvgFillPrice: avg, SlippageBps: slip, FilledQty: size}, nil
}

// Depths returns the number of resting levels per side.
func (b *OrderBook) Depths() (bidLevels, askLevels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.Len(), b.asks.Len()
}

// LastUpdate returns the timestamp of the most recent applied update.
func (b *OrderBook) LastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}
