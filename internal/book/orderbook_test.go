package book

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/internal/schema"
)

func level(price, qty string) schema.LevelUpdate {
	return schema.LevelUpdate{
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
	}
}

func seedBook(t *testing.T) *OrderBook {
	t.Helper()
	b := New("BTC-USDT")
	b.ApplySnapshot(schema.BookSnapshot{
		Symbol:   "BTC-USDT",
		Bids:     []schema.LevelUpdate{level("100.0", "5"), level("99.5", "10")},
		Asks:     []schema.LevelUpdate{level("100.5", "5"), level("101.0", "10")},
		UpdateID: 10,
	})
	return b
}

func TestDerivedMetrics(t *testing.T) {
	b := seedBook(t)

	mid, ok := b.MidPrice()
	require.True(t, ok)
	require.True(t, mid.Equal(decimal.RequireFromString("100.25")), "mid = %s", mid)

	spread, ok := b.SpreadBps()
	require.True(t, ok)
	require.InDelta(t, 49.875, spread.InexactFloat64(), 0.01)

	imb := b.Imbalance(2)
	require.True(t, imb.IsZero(), "imbalance = %s", imb)
}

func TestDeltaRemovesLevelAtZeroQuantity(t *testing.T) {
	b := seedBook(t)

	err := b.ApplyDelta(schema.BookDelta{
		Bids:     []schema.LevelUpdate{level("100.0", "0")},
		UpdateID: 11,
	})
	require.NoError(t, err)

	best, ok := b.BestBid()
	require.True(t, ok)
	require.True(t, best.Price.Equal(decimal.RequireFromString("99.5")), "best bid = %s", best.Price)

	bidLevels, askLevels := b.Depths()
	require.Equal(t, 1, bidLevels)
	require.Equal(t, 2, askLevels)
}

func TestStaleDeltaIsNoOp(t *testing.T) {
	b := seedBook(t)

	err := b.ApplyDelta(schema.BookDelta{
		Bids:     []schema.LevelUpdate{level("100.0", "99")},
		UpdateID: 10,
	})
	require.ErrorIs(t, err, ErrStaleUpdate)

	best, ok := b.BestBid()
	require.True(t, ok)
	require.True(t, best.Quantity.Equal(decimal.NewFromInt(5)), "stale delta mutated the book")
	require.Equal(t, uint64(10), b.UpdateID())
}

func TestMonotoneSequenceNeverCrosses(t *testing.T) {
	b := seedBook(t)

	updates := []schema.BookDelta{
		{Bids: []schema.LevelUpdate{level("100.1", "2")}, Asks: []schema.LevelUpdate{level("100.5", "0"), level("100.4", "3")}, UpdateID: 11},
		{Bids: []schema.LevelUpdate{level("100.1", "0")}, UpdateID: 12},
		{Asks: []schema.LevelUpdate{level("100.4", "0")}, UpdateID: 13},
	}
	for _, d := range updates {
		require.NoError(t, b.ApplyDelta(d))
		bid, okBid := b.BestBid()
		ask, okAsk := b.BestAsk()
		if okBid && okAsk {
			require.True(t, bid.Price.LessThan(ask.Price),
				"crossed after %d: bid=%s ask=%s", d.UpdateID, bid.Price, ask.Price)
		}
	}
}

func TestCrossedBookIsReported(t *testing.T) {
	b := seedBook(t)

	err := b.ApplyDelta(schema.BookDelta{
		Bids:     []schema.LevelUpdate{level("100.6", "1")},
		UpdateID: 11,
	})
	require.ErrorIs(t, err, ErrCrossedBook)
}

func TestSnapshotResetsState(t *testing.T) {
	b := seedBook(t)
	b.ApplySnapshot(schema.BookSnapshot{
		Bids:     []schema.LevelUpdate{level("200.0", "1")},
		Asks:     []schema.LevelUpdate{level("201.0", "1")},
		UpdateID: 5,
	})

	require.Equal(t, uint64(5), b.UpdateID())
	bidLevels, askLevels := b.Depths()
	require.Equal(t, 1, bidLevels)
	require.Equal(t, 1, askLevels)

	// Sequence gating restarts from the snapshot id.
	require.NoError(t, b.ApplyDelta(schema.BookDelta{Bids: []schema.LevelUpdate{level("200.5", "1")}, UpdateID: 6}))
}

func TestMicropricePullsTowardLighterSide(t *testing.T) {
	b := New("BTC-USDT")
	b.ApplySnapshot(schema.BookSnapshot{
		Bids:     []schema.LevelUpdate{level("100.0", "20")},
		Asks:     []schema.LevelUpdate{level("100.5", "2")},
		UpdateID: 1,
	})

	micro, ok := b.Microprice(1)
	require.True(t, ok)
	mid, _ := b.MidPrice()
	// Heavy bid side means imminent upward pressure: fair value above mid.
	require.True(t, micro.GreaterThan(mid), "micro=%s mid=%s", micro, mid)
}

func TestEstimateSlippage(t *testing.T) {
	b := seedBook(t)

	est, err := b.EstimateSlippage(decimal.NewFromInt(8), schema.SideBuy)
	require.NoError(t, err)
	// 5 @ 100.5 + 3 @ 101.0 = 805.5 over 8 units.
	require.True(t, est.AvgFillPrice.Equal(decimal.RequireFromString("100.6875")), "avg = %s", est.AvgFillPrice)
	require.True(t, est.SlippageBps.GreaterThan(decimal.Zero))

	_, err = b.EstimateSlippage(decimal.NewFromInt(50), schema.SideSell)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestImbalanceEmptyBook(t *testing.T) {
	b := New("BTC-USDT")
	require.True(t, b.Imbalance(5).IsZero())

	_, ok := b.MidPrice()
	require.False(t, ok)
	_, ok = b.SpreadBps()
	require.False(t, ok)
	_, err := b.EstimateSlippage(decimal.NewFromInt(1), schema.SideBuy)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrStaleUpdate))
}
