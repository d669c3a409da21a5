// Package signals derives rolling market statistics from observed book state.
package signals

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Window is a fixed-capacity ring buffer of float64 samples.
type Window struct {
	buf  []float64
	head int
	size int
}

// NewWindow constructs a window holding up to capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest once full.
func (w *Window) Push(v float64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
}

// Len returns the number of stored samples.
func (w *Window) Len() int { return w.size }

// Values returns the samples in insertion order, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.size)
	start := w.head - w.size
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// MarketSignals maintains rolling mid-price and spread history for one
// symbol and derives volatility and imbalance-trend estimates from it.
type MarketSignals struct {
	mu          sync.Mutex
	mids        *Window
	spreads     *Window
	imbalance   float64
	imbalanceOK bool
	alpha       float64
	lastSample  time.Time
}

// New constructs signals with the given rolling window capacity. The
// imbalance trend uses an EMA with smoothing 2/(capacity+1).
func New(capacity int) *MarketSignals {
	return &MarketSignals{
		mids:    NewWindow(capacity),
		spreads: NewWindow(capacity),
		alpha:   2.0 / (float64(capacity) + 1.0),
	}
}

// Observe records one sample of mid, spread, and imbalance taken at t.
func (s *MarketSignals) Observe(mid, spreadBps, imbalance decimal.Decimal, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mids.Push(mid.InexactFloat64())
	s.spreads.Push(spreadBps.InexactFloat64())

	imb := imbalance.InexactFloat64()
	if !s.imbalanceOK {
		s.imbalance = imb
		s.imbalanceOK = true
	} else {
		s.imbalance = s.alpha*imb + (1-s.alpha)*s.imbalance
	}
	s.lastSample = t
}

// Volatility returns the standard deviation of log returns over the mid
// window. Returns zero until at least three samples exist.
func (s *MarketSignals) Volatility() float64 {
	s.mu.Lock()
	mids := s.mids.Values()
	s.mu.Unlock()

	if len(mids) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		if mids[i-1] <= 0 || mids[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(mids[i]/mids[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// SpreadMean returns the average observed spread in bps, zero when empty.
func (s *MarketSignals) SpreadMean() float64 {
	s.mu.Lock()
	spreads := s.spreads.Values()
	s.mu.Unlock()

	if len(spreads) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range spreads {
		sum += v
	}
	return sum / float64(len(spreads))
}

// ImbalanceTrend returns the EMA of observed imbalance samples, in [-1, 1].
func (s *MarketSignals) ImbalanceTrend() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.imbalanceOK {
		return 0
	}
	return s.imbalance
}

// LastSample returns the time of the most recent observation.
func (s *MarketSignals) LastSample() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSample
}
