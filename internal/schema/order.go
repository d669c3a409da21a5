// Package schema defines canonical domain types shared across the market maker.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side captures the direction of an order or trade.
type Side string

const (
	// SideBuy indicates the bid side.
	SideBuy Side = "Buy"
	// SideSell indicates the ask side.
	SideSell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TimeInForce enumerates supported order time-in-force policies.
type TimeInForce string

const (
	// TIFPostOnly rejects the order instead of crossing, guaranteeing
	// it only adds resting liquidity.
	TIFPostOnly TimeInForce = "PostOnly"
	// TIFGoodTillCancel keeps the order resting until cancelled.
	TIFGoodTillCancel TimeInForce = "GTC"
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	// OrderStatusNew marks an order created locally, not yet sent.
	OrderStatusNew OrderStatus = "New"
	// OrderStatusPendingPlace marks an order in flight to the venue.
	OrderStatusPendingPlace OrderStatus = "PendingPlace"
	// OrderStatusWorking marks an order resting on the venue book.
	OrderStatusWorking OrderStatus = "Working"
	// OrderStatusPartiallyFilled marks a resting order with partial executions.
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	// OrderStatusFilled marks a completely executed order.
	OrderStatusFilled OrderStatus = "Filled"
	// OrderStatusCancelled marks an order cancelled before completion.
	OrderStatusCancelled OrderStatus = "Cancelled"
	// OrderStatusRejected marks an order the venue refused.
	OrderStatusRejected OrderStatus = "Rejected"
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order tracks a single outbound order through its lifecycle. Orders are
// owned exclusively by the lifecycle manager and mutated only by applying
// venue events or local lifecycle transitions.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	TimeInForce     TimeInForce
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// OrderRequest represents an order submission toward the venue.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}
