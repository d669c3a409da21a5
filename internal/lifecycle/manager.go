// Package lifecycle tracks outbound orders from placement to terminal state
// and reconciles them against the venue's authoritative view.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/exchange"
	"github.com/coachpo/marketmaker/internal/observability"
	"github.com/coachpo/marketmaker/internal/resilience"
	"github.com/coachpo/marketmaker/internal/schema"
)

// Manager owns the active-order set for one symbol. All mutations happen by
// applying venue events or local lifecycle transitions; network calls run
// outside the lock on captured state.
type Manager struct {
	symbol string
	client exchange.RestClient
	guard  *resilience.Guard

	mu     sync.Mutex
	active map[string]*schema.Order
}

// NewManager constructs a lifecycle manager for symbol. Every client call is
// wrapped by the resilience guard.
func NewManager(symbol string, client exchange.RestClient, guard *resilience.Guard) *Manager {
	return &Manager{
		symbol: symbol,
		client: client,
		guard:  guard,
		active: make(map[string]*schema.Order),
	}
}

// Place submits an order. A missing ClientOrderID is assigned from uuid.
// Placing an id that is already tracked is idempotent and returns the id
// without a second submission. On venue rejection the order is marked
// Rejected and dropped from the active set.
func (m *Manager) Place(ctx context.Context, req schema.OrderRequest) (string, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = "mm-" + uuid.NewString()
	}
	req.Symbol = m.symbol

	now := time.Now()
	m.mu.Lock()
	if _, exists := m.active[req.ClientOrderID]; exists {
		m.mu.Unlock()
		return req.ClientOrderID, nil
	}
	m.active[req.ClientOrderID] = &schema.Order{
		ClientOrderID: req.ClientOrderID,
		Symbol:        m.symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		TimeInForce:   req.TimeInForce,
		Status:        schema.OrderStatusPendingPlace,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.mu.Unlock()

	var placed schema.Order
	err := m.guard.Do(ctx, exchange.EndpointPlaceOrder, func(ctx context.Context) error {
		var callErr error
		placed, callErr = m.client.PlaceOrder(ctx, req)
		return callErr
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	order, tracked := m.active[req.ClientOrderID]
	if !tracked {
		// A fill or cancel event beat the ack; nothing left to update.
		return req.ClientOrderID, err
	}
	if err != nil {
		order.Status = schema.OrderStatusRejected
		order.UpdatedAt = time.Now()
		delete(m.active, req.ClientOrderID)
		observability.Log().Warn("order placement failed",
			observability.F("client_order_id", req.ClientOrderID),
			observability.F("side", string(req.Side)),
			observability.F("error", err))
		return req.ClientOrderID, err
	}

	order.ExchangeOrderID = placed.ExchangeOrderID
	if order.Status == schema.OrderStatusPendingPlace {
		order.Status = schema.OrderStatusWorking
	}
	order.UpdatedAt = time.Now()
	observability.Telemetry().IncCounter("orders.placed", 1,
		map[string]string{"side": string(req.Side)})
	return req.ClientOrderID, nil
}

// ApplyFill folds an execution event into the tracked order. Complete fills
// transition to Filled and leave the active set; partials stay working as
// PartiallyFilled. Fills for unknown orders are logged and dropped.
func (m *Manager) ApplyFill(fill schema.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.active[fill.ClientOrderID]
	if !ok {
		observability.Log().Debug("fill for untracked order",
			observability.F("client_order_id", fill.ClientOrderID))
		return
	}
	order.FilledQuantity = order.FilledQuantity.Add(fill.FilledQty)
	order.UpdatedAt = fill.Timestamp
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = schema.OrderStatusFilled
		delete(m.active, fill.ClientOrderID)
	} else {
		order.Status = schema.OrderStatusPartiallyFilled
	}
	observability.Telemetry().IncCounter("orders.fills", 1,
		map[string]string{"side": string(order.Side)})
}

// Cancel requests cancellation of a tracked order. Cancelling an unknown or
// already-terminal order is a no-op, not an error. A venue not_found answer
// counts as already cancelled.
func (m *Manager) Cancel(ctx context.Context, clientOrderID string) error {
	m.mu.Lock()
	_, tracked := m.active[clientOrderID]
	m.mu.Unlock()
	if !tracked {
		return nil
	}

	err := m.guard.Do(ctx, exchange.EndpointCancelOrder, func(ctx context.Context) error {
		return m.client.CancelOrder(ctx, m.symbol, clientOrderID)
	})
	if err != nil && errs.CodeOf(err) != errs.CodeNotFound {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.active[clientOrderID]; ok {
		order.Status = schema.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		delete(m.active, clientOrderID)
	}
	return nil
}

// CancelAll cancels every tracked order in one venue call.
func (m *Manager) CancelAll(ctx context.Context) error {
	err := m.guard.Do(ctx, exchange.EndpointCancelAllOrders, func(ctx context.Context) error {
		return m.client.CancelAllOrders(ctx, m.symbol)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, order := range m.active {
		order.Status = schema.OrderStatusCancelled
		order.UpdatedAt = now
		delete(m.active, id)
	}
	return nil
}

// Reconcile diffs the local active set against the venue's open orders.
// Orders open remotely but unknown locally are adopted; orders believed
// working locally but absent remotely are marked Cancelled. In-flight
// placements are left alone.
func (m *Manager) Reconcile(ctx context.Context) error {
	var remote []schema.Order
	err := m.guard.Do(ctx, exchange.EndpointGetOpenOrders, func(ctx context.Context) error {
		var callErr error
		remote, callErr = m.client.GetOpenOrders(ctx, m.symbol)
		return callErr
	})
	if err != nil {
		return err
	}

	remoteByID := make(map[string]schema.Order, len(remote))
	for _, order := range remote {
		remoteByID[order.ClientOrderID] = order
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	adopted, dropped := 0, 0
	for id, order := range remoteByID {
		if _, known := m.active[id]; !known {
			copied := order
			if copied.Status == "" {
				copied.Status = schema.OrderStatusWorking
			}
			m.active[id] = &copied
			adopted++
		}
	}
	now := time.Now()
	for id, order := range m.active {
		if order.Status == schema.OrderStatusPendingPlace {
			continue
		}
		if _, open := remoteByID[id]; !open {
			order.Status = schema.OrderStatusCancelled
			order.UpdatedAt = now
			delete(m.active, id)
			dropped++
		}
	}
	if adopted > 0 || dropped > 0 {
		observability.Log().Info("order reconciliation applied",
			observability.F("adopted", adopted),
			observability.F("dropped", dropped))
	}
	return nil
}

// ActiveOrders returns a stable-ordered copy of the active set.
func (m *Manager) ActiveOrders() []schema.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Order, 0, len(m.active))
	for _, order := range m.active {
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID < out[j].ClientOrderID })
	return out
}

// OpenCount returns the number of active orders on side.
func (m *Manager) OpenCount(side schema.Side) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, order := range m.active {
		if order.Side == side {
			count++
		}
	}
	return count
}

// Get returns a copy of one tracked order.
func (m *Manager) Get(clientOrderID string) (schema.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.active[clientOrderID]
	if !ok {
		return schema.Order{}, false
	}
	return *order, true
}
