package iv

import (
	"sync"
	"time"

	"orderbook/internal/analytics"
	"orderbook/internal/book"
	"orderbook/internal/matching"
	"orderbook/internal/model"
)

// PriceSource extracts the spot price and current spread (in bps) Solve
// needs. ok is false when no price can currently be extracted (an empty
// side, or a stale last trade).
type PriceSource interface {
	Price() (spot float64, spreadBps float64, ok bool)
}

// MidPriceSource is (best_bid + best_ask) / 2.
type MidPriceSource struct {
	Book *book.OrderBook
}

func (s MidPriceSource) Price() (float64, float64, bool) {
	mid, ok := analytics.MidPrice(s.Book)
	if !ok {
		return 0, 0, false
	}
	bps, ok := analytics.SpreadBps(s.Book)
	if !ok {
		return 0, 0, false
	}
	spot, _ := mid.Float64()
	spreadBps, _ := bps.Float64()
	return spot, spreadBps, true
}

// WeightedMidSource is the best-level-size-weighted mid, the same
// formula analytics.MicroPrice computes.
type WeightedMidSource struct {
	Book *book.OrderBook
}

func (s WeightedMidSource) Price() (float64, float64, bool) {
	micro, ok := analytics.MicroPrice(s.Book)
	if !ok {
		return 0, 0, false
	}
	bps, ok := analytics.SpreadBps(s.Book)
	if !ok {
		return 0, 0, false
	}
	spot, _ := micro.Float64()
	spreadBps, _ := bps.Float64()
	return spot, spreadBps, true
}

// LastTradeSource tracks the most recent trade the matching engine
// reported, via its trade listener hook, and treats it as stale (not
// usable) once older than MaxAge. Unlike the mid sources this is not a
// synchronous book read, so staleness has to be judged explicitly.
type LastTradeSource struct {
	Book   *book.OrderBook
	MaxAge time.Duration

	mu          sync.Mutex
	lastPrice   float64
	lastAt      time.Time
	unsubscribe func()
}

// NewLastTradeSource subscribes to engine's trade feed and starts
// tracking its most recent print for ob. Call Close to unsubscribe.
func NewLastTradeSource(ob *book.OrderBook, engine *matching.Engine, maxAge time.Duration) *LastTradeSource {
	s := &LastTradeSource{Book: ob, MaxAge: maxAge}
	s.unsubscribe = engine.Subscribe(func(t model.Trade) {
		s.mu.Lock()
		s.lastPrice = float64(t.Price)
		s.lastAt = time.Now()
		s.mu.Unlock()
	})
	return s
}

// Close unsubscribes from the engine's trade feed.
func (s *LastTradeSource) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *LastTradeSource) Price() (float64, float64, bool) {
	s.mu.Lock()
	price, at := s.lastPrice, s.lastAt
	s.mu.Unlock()

	if at.IsZero() || time.Since(at) > s.MaxAge {
		return 0, 0, false
	}
	bps, ok := analytics.SpreadBps(s.Book)
	if !ok {
		return 0, 0, false
	}
	spreadBps, _ := bps.Float64()
	return price, spreadBps, true
}
