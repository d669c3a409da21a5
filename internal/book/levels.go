// Package book maintains per-symbol limit order book state assembled from
// streaming snapshots and deltas.
package book

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/coachpo/marketmaker/internal/schema"
)

// PriceLevelStore is an ordered map from price to aggregated quantity for a
// single book side. Insert and delete are O(log n); the best level peek is a
// tree min/max lookup.
type PriceLevelStore struct {
	side   schema.Side
	levels *btree.BTreeG[schema.PriceLevel]
}

// NewPriceLevelStore constructs an empty store for the given side.
func NewPriceLevelStore(side schema.Side) *PriceLevelStore {
	return &PriceLevelStore{
		side: side,
		levels: btree.NewBTreeG(func(a, b schema.PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
	}
}

// Upsert sets the aggregated quantity at price. A non-positive quantity
// removes the level; levels with zero quantity are never stored.
func (s *PriceLevelStore) Upsert(price, qty decimal.Decimal, at time.Time) {
	if qty.Sign() <= 0 {
		s.levels.Delete(schema.PriceLevel{Price: price})
		return
	}
	s.levels.Set(schema.PriceLevel{Price: price, Quantity: qty, UpdatedAt: at})
}

// Remove deletes the level at price if present.
func (s *PriceLevelStore) Remove(price decimal.Decimal) {
	s.levels.Delete(schema.PriceLevel{Price: price})
}

// Best returns the top of the side: highest price for bids, lowest for asks.
func (s *PriceLevelStore) Best() (schema.PriceLevel, bool) {
	if s.side == schema.SideBuy {
		return s.levels.Max()
	}
	return s.levels.Min()
}

// Len returns the number of resting levels.
func (s *PriceLevelStore) Len() int {
	return s.levels.Len()
}

// Clear removes every level.
func (s *PriceLevelStore) Clear() {
	s.levels.Clear()
}

// WalkBest iterates levels from best to worst, stopping when fn returns false.
func (s *PriceLevelStore) WalkBest(fn func(level schema.PriceLevel) bool) {
	if s.side == schema.SideBuy {
		s.levels.Reverse(fn)
		return
	}
	s.levels.Scan(fn)
}

// Top returns up to depth levels from best to worst.
func (s *PriceLevelStore) Top(depth int) []schema.PriceLevel {
	if depth <= 0 {
		return nil
	}
	out := make([]schema.PriceLevel, 0, depth)
	s.WalkBest(func(level schema.PriceLevel) bool {
		out = append(out, level)
		return len(out) < depth
	})
	return out
}

// Volume sums resting quantity across the top depth levels.
func (s *PriceLevelStore) Volume(depth int) decimal.Decimal {
	total := decimal.Zero
	count := 0
	s.WalkBest(func(level schema.PriceLevel) bool {
		total = total.Add(level.Quantity)
		count++
		return count < depth
	})
	return total
}
