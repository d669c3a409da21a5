package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one aggregated price point on a book side.
type PriceLevel struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	UpdatedAt time.Time
}

// LevelUpdate carries one price/quantity pair from the feed. Quantity zero
// removes the level.
type LevelUpdate struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// BookSnapshot is a full order book image with its sequence identifier.
type BookSnapshot struct {
	Symbol    string
	Bids      []LevelUpdate
	Asks      []LevelUpdate
	UpdateID  uint64
	Timestamp time.Time
}

// BookDelta is an incremental book update. UpdateID must strictly increase
// per applied delta; stale deltas are dropped by the book.
type BookDelta struct {
	Symbol    string
	Bids      []LevelUpdate
	Asks      []LevelUpdate
	UpdateID  uint64
	Timestamp time.Time
}

// MarketState holds derived book metrics. Recomputed on every applied book
// change, never persisted as a source of truth.
type MarketState struct {
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	Mid        decimal.Decimal
	Spread     decimal.Decimal
	SpreadBps  decimal.Decimal
	Microprice decimal.Decimal
	Imbalance  decimal.Decimal
	Volatility float64
	LastUpdate time.Time
}

// Fill reports an execution against a tracked order.
type Fill struct {
	Symbol        string
	ClientOrderID string
	Side          Side
	FilledQty     decimal.Decimal
	FillPrice     decimal.Decimal
	FeeAmount     decimal.Decimal
	Timestamp     time.Time
}

// PositionUpdate reports the venue's view of the current position.
type PositionUpdate struct {
	Symbol        string
	Size          decimal.Decimal
	Side          Side
	AvgEntryPrice decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Timestamp     time.Time
}
