// Package exchange defines the venue connectivity boundary: the REST-style
// client the core calls outbound and the stream events it consumes inbound.
package exchange

import (
	"context"

	"github.com/coachpo/marketmaker/internal/schema"
)

// Endpoint names used as rate-limiter keys for outbound calls.
const (
	EndpointPlaceOrder      = "placeOrder"
	EndpointCancelOrder     = "cancelOrder"
	EndpointCancelAllOrders = "cancelAllOrders"
	EndpointGetOpenOrders   = "getOpenOrders"
	EndpointGetPosition     = "getPosition"
	EndpointGetBookSnapshot = "getBookSnapshot"
)

// RestClient is the outbound venue surface. Implementations handle signing
// and transport; the core only sees canonical types. All calls go through
// the resilience guard.
type RestClient interface {
	PlaceOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error)
	GetPosition(ctx context.Context, symbol string) (schema.PositionUpdate, error)
	GetBookSnapshot(ctx context.Context, symbol string) (schema.BookSnapshot, error)
}

// EventKind discriminates inbound stream events.
type EventKind string

const (
	// KindBookSnapshot carries a full book image.
	KindBookSnapshot EventKind = "book_snapshot"
	// KindBookDelta carries an incremental book update.
	KindBookDelta EventKind = "book_delta"
	// KindFill carries an execution against a tracked order.
	KindFill EventKind = "fill"
	// KindPosition carries a venue position update.
	KindPosition EventKind = "position"
	// KindReconnected signals a fresh stream session; the consumer must
	// resynchronize the book from a REST snapshot.
	KindReconnected EventKind = "reconnected"
)

// Event is one inbound stream event. Exactly one payload pointer is set,
// matching Kind; KindReconnected carries none.
type Event struct {
	Kind     EventKind
	Snapshot *schema.BookSnapshot
	Delta    *schema.BookDelta
	Fill     *schema.Fill
	Position *schema.PositionUpdate
}
