// Package fake provides an in-memory venue used by engine and lifecycle
// tests in place of real connectivity.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/internal/exchange"
	"github.com/coachpo/marketmaker/internal/schema"
)

// Venue is an in-memory exchange.RestClient with scriptable failures and a
// manual event feed.
type Venue struct {
	mu         sync.Mutex
	openOrders map[string]schema.Order
	position   schema.PositionUpdate
	snapshot   schema.BookSnapshot
	failures   map[string][]error
	calls      map[string]int
	events     chan exchange.Event
}

// NewVenue constructs an empty fake venue.
func NewVenue() *Venue {
	return &Venue{
		openOrders: make(map[string]schema.Order),
		failures:   make(map[string][]error),
		calls:      make(map[string]int),
		events:     make(chan exchange.Event, 256),
	}
}

// Events returns the inbound event feed tests push into via Emit.
func (v *Venue) Events() <-chan exchange.Event { return v.events }

// Emit pushes one stream event toward the consumer.
func (v *Venue) Emit(event exchange.Event) { v.events <- event }

// CloseFeed closes the event feed.
func (v *Venue) CloseFeed() { close(v.events) }

// FailNext queues err as the result of the next call to endpoint.
func (v *Venue) FailNext(endpoint string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[endpoint] = append(v.failures[endpoint], err)
}

// Calls reports how many times endpoint was invoked.
func (v *Venue) Calls(endpoint string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[endpoint]
}

// SetSnapshot sets the book snapshot returned by GetBookSnapshot.
func (v *Venue) SetSnapshot(snap schema.BookSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snapshot = snap
}

// SetPosition sets the position returned by GetPosition.
func (v *Venue) SetPosition(pos schema.PositionUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = pos
}

// AdoptOrder registers an order as open on the venue without a local place
// call, for reconciliation tests.
func (v *Venue) AdoptOrder(order schema.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.openOrders[order.ClientOrderID] = order
}

// OpenOrderIDs returns the client ids of orders currently open on the venue.
func (v *Venue) OpenOrderIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.openOrders))
	for id := range v.openOrders {
		ids = append(ids, id)
	}
	return ids
}

func (v *Venue) takeFailure(endpoint string) error {
	queued := v.failures[endpoint]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	v.failures[endpoint] = queued[1:]
	return err
}

// PlaceOrder acknowledges the order as working on the venue.
func (v *Venue) PlaceOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[exchange.EndpointPlaceOrder]++
	if err := v.takeFailure(exchange.EndpointPlaceOrder); err != nil {
		return schema.Order{}, err
	}

	now := time.Now()
	order := schema.Order{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: uuid.NewString(),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Price:           req.Price,
		Quantity:        req.Quantity,
		FilledQuantity:  decimal.Zero,
		TimeInForce:     req.TimeInForce,
		Status:          schema.OrderStatusWorking,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	v.openOrders[order.ClientOrderID] = order
	return order, nil
}

// CancelOrder removes the order from the venue's open set.
func (v *Venue) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[exchange.EndpointCancelOrder]++
	if err := v.takeFailure(exchange.EndpointCancelOrder); err != nil {
		return err
	}
	delete(v.openOrders, clientOrderID)
	return nil
}

// CancelAllOrders clears the venue's open set for symbol.
func (v *Venue) CancelAllOrders(ctx context.Context, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[exchange.EndpointCancelAllOrders]++
	if err := v.takeFailure(exchange.EndpointCancelAllOrders); err != nil {
		return err
	}
	for id, order := range v.openOrders {
		if order.Symbol == symbol {
			delete(v.openOrders, id)
		}
	}
	return nil
}

// GetOpenOrders returns the venue's authoritative open order set.
func (v *Venue) GetOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[exchange.EndpointGetOpenOrders]++
	if err := v.takeFailure(exchange.EndpointGetOpenOrders); err != nil {
		return nil, err
	}
	out := make([]schema.Order, 0, len(v.openOrders))
	for _, order := range v.openOrders {
		if order.Symbol == symbol {
			out = append(out, order)
		}
	}
	return out, nil
}

// GetPosition returns the configured position.
func (v *Venue) GetPosition(ctx context.Context, symbol string) (schema.PositionUpdate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[exchange.EndpointGetPosition]++
	if err := v.takeFailure(exchange.EndpointGetPosition); err != nil {
		return schema.PositionUpdate{}, err
	}
	return v.position, nil
}

// GetBookSnapshot returns the configured snapshot.
func (v *Venue) GetBookSnapshot(ctx context.Context, symbol string) (schema.BookSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[exchange.EndpointGetBookSnapshot]++
	if err := v.takeFailure(exchange.EndpointGetBookSnapshot); err != nil {
		return schema.BookSnapshot{}, err
	}
	return v.snapshot, nil
}
