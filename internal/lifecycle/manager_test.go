package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/exchange"
	"github.com/coachpo/marketmaker/internal/exchange/fake"
	"github.com/coachpo/marketmaker/internal/resilience"
	"github.com/coachpo/marketmaker/internal/schema"
)

const testSymbol = "BTC-USDT"

func newTestManager(t *testing.T) (*Manager, *fake.Venue) {
	t.Helper()
	venue := fake.NewVenue()
	guard := resilience.NewGuard("fake",
		resilience.GuardConfig{MaxRetries: 1, RetryInitialInterval: time.Millisecond, RetryMaxInterval: 2 * time.Millisecond},
		resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "fake", FailureThreshold: 50, RecoveryTimeout: time.Minute}),
		resilience.NewRateLimiter(nil))
	return NewManager(testSymbol, venue, guard), venue
}

func buyReq(price, qty string) schema.OrderRequest {
	return schema.OrderRequest{
		Side:        schema.SideBuy,
		Price:       decimal.RequireFromString(price),
		Quantity:    decimal.RequireFromString(qty),
		TimeInForce: schema.TIFPostOnly,
	}
}

func TestPlaceTracksWorkingOrder(t *testing.T) {
	m, venue := newTestManager(t)

	id, err := m.Place(context.Background(), buyReq("100.0", "1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	order, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, schema.OrderStatusWorking, order.Status)
	require.NotEmpty(t, order.ExchangeOrderID)
	require.Equal(t, 1, venue.Calls(exchange.EndpointPlaceOrder))
	require.Equal(t, 1, m.OpenCount(schema.SideBuy))
}

func TestPlaceDuplicateClientIDIsIdempotent(t *testing.T) {
	m, venue := newTestManager(t)

	req := buyReq("100.0", "1")
	req.ClientOrderID = "mm-dup"
	_, err := m.Place(context.Background(), req)
	require.NoError(t, err)

	id, err := m.Place(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "mm-dup", id)
	require.Equal(t, 1, venue.Calls(exchange.EndpointPlaceOrder), "duplicate must not resubmit")
	require.Len(t, m.ActiveOrders(), 1)
}

func TestPlaceRejectionDropsOrder(t *testing.T) {
	m, venue := newTestManager(t)
	venue.FailNext(exchange.EndpointPlaceOrder, errs.New("fake", errs.CodeInvalid, errs.WithMessage("bad qty")))

	_, err := m.Place(context.Background(), buyReq("100.0", "1"))
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
	require.Empty(t, m.ActiveOrders())
}

func TestApplyFillPartialThenComplete(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.Place(context.Background(), buyReq("100.0", "2"))
	require.NoError(t, err)

	m.ApplyFill(schema.Fill{ClientOrderID: id, FilledQty: decimal.NewFromInt(1), FillPrice: decimal.NewFromInt(100), Timestamp: time.Now()})
	order, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, schema.OrderStatusPartiallyFilled, order.Status)
	require.True(t, order.Remaining().Equal(decimal.NewFromInt(1)))

	m.ApplyFill(schema.Fill{ClientOrderID: id, FilledQty: decimal.NewFromInt(1), FillPrice: decimal.NewFromInt(100), Timestamp: time.Now()})
	_, ok = m.Get(id)
	require.False(t, ok, "filled order must leave the active set")
}

func TestCancelIdempotent(t *testing.T) {
	m, venue := newTestManager(t)
	id, err := m.Place(context.Background(), buyReq("100.0", "1"))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), id))
	require.Empty(t, m.ActiveOrders())

	// Second cancel and cancel of an unknown id are no-ops.
	require.NoError(t, m.Cancel(context.Background(), id))
	require.NoError(t, m.Cancel(context.Background(), "mm-nonexistent"))
	require.Equal(t, 1, venue.Calls(exchange.EndpointCancelOrder))
}

func TestCancelTreatsNotFoundAsDone(t *testing.T) {
	m, venue := newTestManager(t)
	id, err := m.Place(context.Background(), buyReq("100.0", "1"))
	require.NoError(t, err)

	venue.FailNext(exchange.EndpointCancelOrder, errs.New("fake", errs.CodeNotFound))
	require.NoError(t, m.Cancel(context.Background(), id))
	require.Empty(t, m.ActiveOrders())
}

func TestCancelAll(t *testing.T) {
	m, venue := newTestManager(t)
	_, err := m.Place(context.Background(), buyReq("100.0", "1"))
	require.NoError(t, err)
	sell := schema.OrderRequest{Side: schema.SideSell, Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(1), TimeInForce: schema.TIFPostOnly}
	_, err = m.Place(context.Background(), sell)
	require.NoError(t, err)

	require.NoError(t, m.CancelAll(context.Background()))
	require.Empty(t, m.ActiveOrders())
	require.Empty(t, venue.OpenOrderIDs())
}

func TestReconcileAdoptsAndDrops(t *testing.T) {
	m, venue := newTestManager(t)

	// Known locally, gone remotely.
	id, err := m.Place(context.Background(), buyReq("100.0", "1"))
	require.NoError(t, err)
	require.NoError(t, venue.CancelOrder(context.Background(), testSymbol, id))

	// Open remotely, unknown locally.
	venue.AdoptOrder(schema.Order{
		ClientOrderID: "mm-ghost",
		Symbol:        testSymbol,
		Side:          schema.SideSell,
		Price:         decimal.NewFromInt(101),
		Quantity:      decimal.NewFromInt(1),
		Status:        schema.OrderStatusWorking,
	})

	require.NoError(t, m.Reconcile(context.Background()))

	_, stillTracked := m.Get(id)
	require.False(t, stillTracked, "remote-absent order must be dropped as cancelled")
	ghost, ok := m.Get("mm-ghost")
	require.True(t, ok, "remote-only order must be adopted")
	require.Equal(t, schema.OrderStatusWorking, ghost.Status)
}
