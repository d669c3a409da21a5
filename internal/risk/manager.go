package risk

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/schema"
)

// Manager owns the position for one symbol and gates outbound orders
// against the configured limits and throttle.
type Manager struct {
	limits  Limits
	limiter *rate.Limiter

	mu       sync.RWMutex
	position Position
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{
		limits:  limits,
		limiter: rate.NewLimiter(rate.Limit(limits.OrderThrottle), 1),
	}
}

// Limits returns the immutable run limits.
func (m *Manager) Limits() Limits { return m.limits }

// Position returns a copy of the current position.
func (m *Manager) Position() Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.position
}

// ApplyFill folds an execution event into the tracked position.
func (m *Manager) ApplyFill(fill schema.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position.ApplyFill(fill)
}

// ApplyPositionUpdate replaces venue-authoritative position fields.
func (m *Manager) ApplyPositionUpdate(update schema.PositionUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position.ApplyUpdate(update)
}

// CheckOrder evaluates an order request against the limits and the order
// throttle. It blocks on the throttle up to ctx cancellation.
func (m *Manager) CheckOrder(ctx context.Context, req schema.OrderRequest) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return errs.New("risk", errs.CodeRateLimited, errs.WithMessage("order throttle exceeded"), errs.WithCause(err))
	}
	if req.Quantity.Sign() <= 0 {
		return errs.New("risk", errs.CodeInvalid, errs.WithMessage("order quantity must be positive"))
	}
	if req.Quantity.GreaterThan(m.limits.MaxOrderSize) {
		return errs.New("risk", errs.CodeInvalid,
			errs.WithMessage("order quantity "+req.Quantity.String()+" exceeds max order size "+m.limits.MaxOrderSize.String()))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	projected := m.position.Size
	if req.Side == schema.SideBuy {
		projected = projected.Add(req.Quantity)
	} else {
		projected = projected.Sub(req.Quantity)
	}
	if projected.Abs().GreaterThan(m.limits.MaxPositionSize) &&
		projected.Abs().GreaterThan(m.position.Size.Abs()) {
		return errs.New("risk", errs.CodeInvalid,
			errs.WithMessage("order would grow position beyond max position size "+m.limits.MaxPositionSize.String()))
	}
	return nil
}

// Evaluate returns the quote parameters for the current position and the
// supplied market estimates, plus whether quoting must halt.
func (m *Manager) Evaluate(volatility, imbalance float64, baseSpreadBps, baseOrderSize decimal.Decimal) Decision {
	m.mu.RLock()
	pos := m.position
	m.mu.RUnlock()

	in := QuoteInputs{
		Inventory:     pos.Size,
		Volatility:    volatility,
		Imbalance:     imbalance,
		BaseSpreadBps: baseSpreadBps,
		BaseOrderSize: baseOrderSize,
	}
	bid, ask := DynamicSpread(in, m.limits)
	size := OrderSize(in, m.limits)
	halt, reason := ShouldHalt(pos, m.limits)

	return Decision{
		BidSpreadBps: bid,
		AskSpreadBps: ask,
		OrderSize:    size,
		Halt:         halt,
		HaltReason:   reason,
		Position:     pos,
	}
}

// Decision bundles one tick's risk outputs for the quoting engine.
type Decision struct {
	BidSpreadBps decimal.Decimal
	AskSpreadBps decimal.Decimal
	OrderSize    decimal.Decimal
	Halt         bool
	HaltReason   HaltReason
	Position     Position
}
