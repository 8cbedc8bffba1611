// Package book holds the live order book state: a concurrent FIFO queue
// per price, an ordered map from price to queue per side, and the
// order-id secondary index that lets cancellation find an order in
// O(log P) without scanning every level.
package book

import (
	"sync"

	"orderbook/internal/model"
)

// IndexEntry is the (side, price) locator an order-id index entry holds.
// It is a weak reference only - it never carries order ownership, which
// stays with the PriceLevel queue the order rests in.
type IndexEntry struct {
	Side  model.Side
	Price int64
}

// OrderBook pairs a bid side and an ask side for one symbol, plus the
// order_id -> (side, price) index used for O(log P) cancellation.
type OrderBook struct {
	Symbol string
	Bids   *BookSide
	Asks   *BookSide

	mu    sync.RWMutex
	index map[model.OrderID]IndexEntry
}

// NewOrderBook creates an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Bids:   newBookSide(model.Buy),
		Asks:   newBookSide(model.Sell),
		index:  make(map[model.OrderID]IndexEntry),
	}
}

// Side returns the BookSide for side.
func (b *OrderBook) Side(side model.Side) *BookSide {
	if side == model.Buy {
		return b.Bids
	}
	return b.Asks
}

// BestBid is the highest resting bid price, if any.
func (b *OrderBook) BestBid() (int64, bool) { return b.Bids.BestPrice() }

// BestAsk is the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (int64, bool) { return b.Asks.BestPrice() }

// HasOrder reports whether order id is currently resting anywhere in the
// book.
func (b *OrderBook) HasOrder(id model.OrderID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[id]
	return ok
}

// LevelCount is the number of non-empty price levels on side.
func (b *OrderBook) LevelCount(side model.Side) int {
	return b.Side(side).LevelCount()
}

// RegisterIndex records that order id is resting at (side, price).
func (b *OrderBook) RegisterIndex(id model.OrderID, side model.Side, price int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index[id] = IndexEntry{Side: side, Price: price}
}

// LookupIndex returns the (side, price) locator for id, if resting.
func (b *OrderBook) LookupIndex(id model.OrderID) (IndexEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.index[id]
	return e, ok
}

// UnregisterIndex removes id from the index, if present.
func (b *OrderBook) UnregisterIndex(id model.OrderID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.index, id)
}

// CancelAll drains every resting order on the given side (or both sides if
// side is nil), clearing their index entries, and returns everything
// removed.
func (b *OrderBook) CancelAll(side *model.Side) []*model.Order {
	var drained []*model.Order
	if side == nil || *side == model.Buy {
		drained = append(drained, b.Bids.CancelAll()...)
	}
	if side == nil || *side == model.Sell {
		drained = append(drained, b.Asks.CancelAll()...)
	}

	b.mu.Lock()
	for _, o := range drained {
		delete(b.index, o.ID)
	}
	b.mu.Unlock()
	return drained
}

// SweepExpired removes every GTD order past its expiry from both sides,
// clearing their index entries, and returns everything removed.
func (b *OrderBook) SweepExpired(nowUnixNano int64) []*model.Order {
	expired := append(b.Bids.SweepExpired(nowUnixNano), b.Asks.SweepExpired(nowUnixNano)...)
	if len(expired) == 0 {
		return nil
	}
	b.mu.Lock()
	for _, o := range expired {
		delete(b.index, o.ID)
	}
	b.mu.Unlock()
	return expired
}
