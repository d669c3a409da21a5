package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/internal/schema"
)

func TestDecodeBookDelta(t *testing.T) {
	raw := []byte(`{"topic":"orderbook","type":"delta","symbol":"BTC-USDT","updateId":42,"bids":[["100.0","0"]],"asks":[["100.5","3.25"]],"ts":1700000000000}`)

	event, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.Equal(t, KindBookDelta, event.Kind)
	require.NotNil(t, event.Delta)
	require.Equal(t, uint64(42), event.Delta.UpdateID)
	require.Len(t, event.Delta.Bids, 1)
	require.True(t, event.Delta.Bids[0].Quantity.IsZero())
	require.True(t, event.Delta.Asks[0].Quantity.Equal(decimal.RequireFromString("3.25")))
	require.Equal(t, int64(1700000000000), event.Delta.Timestamp.UnixMilli())
}

func TestDecodeBookSnapshot(t *testing.T) {
	raw := []byte(`{"topic":"orderbook","type":"snapshot","symbol":"BTC-USDT","updateId":7,"bids":[["99.5","10"],["100.0","5"]],"asks":[["100.5","5"]],"ts":1700000000000}`)

	event, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.Equal(t, KindBookSnapshot, event.Kind)
	require.NotNil(t, event.Snapshot)
	require.Len(t, event.Snapshot.Bids, 2)
	require.Equal(t, uint64(7), event.Snapshot.UpdateID)
}

func TestDecodeFill(t *testing.T) {
	raw := []byte(`{"topic":"execution","symbol":"BTC-USDT","clientOrderId":"mm-1","side":"Sell","fillQty":"0.5","fillPrice":"101.25","feeAmount":"0.01","ts":1700000001000}`)

	event, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.Equal(t, KindFill, event.Kind)
	require.Equal(t, "mm-1", event.Fill.ClientOrderID)
	require.Equal(t, schema.SideSell, event.Fill.Side)
	require.True(t, event.Fill.FillPrice.Equal(decimal.RequireFromString("101.25")))
	require.True(t, event.Fill.FeeAmount.Equal(decimal.RequireFromString("0.01")))
}

func TestDecodePosition(t *testing.T) {
	raw := []byte(`{"topic":"position","symbol":"BTC-USDT","side":"Buy","size":"1.5","entryPrice":"100.0","unrealisedPnl":"-3.75","ts":1700000002000}`)

	event, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.Equal(t, KindPosition, event.Kind)
	require.True(t, event.Position.Size.Equal(decimal.RequireFromString("1.5")))
	require.True(t, event.Position.UnrealizedPnl.Equal(decimal.RequireFromString("-3.75")))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"topic":"weather","temp":12}`))
	require.Error(t, err)

	_, err = DecodeEvent([]byte(`not json`))
	require.Error(t, err)

	_, err = DecodeEvent([]byte(`{"topic":"orderbook","type":"delta","bids":[["abc","1"]],"ts":0}`))
	require.Error(t, err)
}
