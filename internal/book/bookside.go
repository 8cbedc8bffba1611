package book

import (
	"sync"

	"github.com/tidwall/btree"

	"orderbook/internal/model"
)

// BookSide is the ordered price -> PriceLevel map for one side of the
// book. Bids iterate highest-price-first, asks lowest-price-first; that
// ordering is exactly "best price first" either way, which is what
// BestPrice/IterateFromBest rely on.
//
// Structural changes (creating or deleting a level) take the side's
// sync.RWMutex; reads of a level's own FIFO/sums go through the level's own
// mutex instead, so unrelated levels never contend with each other.
// IterateFromBest takes an O(1) copy-on-write snapshot of the tree
// (btree.BTreeG.Copy) and scans that, so a concurrent insert or removal
// during iteration is invisible to the scan in progress - each yielded
// level is one this side held at some real instant. No global atomic
// snapshot across levels is attempted.
type BookSide struct {
	side model.Side
	less func(a, b *PriceLevel) bool

	mu     sync.RWMutex
	levels *btree.BTreeG[*PriceLevel]
}

func newBookSide(side model.Side) *BookSide {
	var less func(a, b *PriceLevel) bool
	if side == model.Buy {
		less = func(a, b *PriceLevel) bool { return a.price > b.price }
	} else {
		less = func(a, b *PriceLevel) bool { return a.price < b.price }
	}
	return &BookSide{
		side:   side,
		less:   less,
		levels: btree.NewBTreeG(less),
	}
}

// Side is which side of the book this is.
func (s *BookSide) Side() model.Side { return s.side }

// BestPrice returns the first key in iteration order (best price), or
// false if the side is empty.
func (s *BookSide) BestPrice() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lvl, ok := s.levels.Min()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// BestLevel returns the best-priced level itself, or false if empty.
func (s *BookSide) BestLevel() (*PriceLevel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levels.Min()
}

// LevelAt returns the existing level at price, if any.
func (s *BookSide) LevelAt(price int64) (*PriceLevel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levels.Get(&PriceLevel{price: price})
}

// Insert enqueues an order at its price, creating the level if it doesn't
// exist yet, and returns the level it landed on. The push happens under
// the side lock: RemoveEmptyLevel holds the same lock while it re-checks
// emptiness, so an order can never land on a level that a concurrent
// remover is about to delete.
func (s *BookSide) Insert(o *model.Order) *PriceLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl, ok := s.levels.Get(&PriceLevel{price: o.Price})
	if !ok {
		lvl = newPriceLevel(o.Price, s.side)
		s.levels.Set(lvl)
	}
	lvl.PushBack(o)
	return lvl
}

// RemoveEmptyLevel deletes lvl from the map if it is still empty and is
// still the level on file for its price - idempotent, and safe against a
// concurrent inserter that re-created the level between the caller
// noticing it was empty and this call taking the side lock.
func (s *BookSide) RemoveEmptyLevel(lvl *PriceLevel) {
	if !lvl.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.levels.Get(&PriceLevel{price: lvl.price}); ok && cur == lvl && cur.Empty() {
		s.levels.Delete(&PriceLevel{price: lvl.price})
	}
}

// IterateFromBest lazily yields (price, level) pairs in best-first order
// over a copy-on-write snapshot of the map, stopping early if fn returns
// false.
func (s *BookSide) IterateFromBest(fn func(lvl *PriceLevel) bool) {
	s.mu.RLock()
	snap := s.levels.Copy()
	s.mu.RUnlock()

	snap.Scan(func(lvl *PriceLevel) bool {
		return fn(lvl)
	})
}

// LevelCount is the number of non-empty price levels on this side.
func (s *BookSide) LevelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levels.Len()
}

// CancelAll drains every level on this side and returns every order that
// was resting, for the caller to clear from the id index.
func (s *BookSide) CancelAll() []*model.Order {
	s.mu.Lock()
	old := s.levels
	s.levels = btree.NewBTreeG(s.less)
	s.mu.Unlock()

	var drained []*model.Order
	old.Scan(func(lvl *PriceLevel) bool {
		drained = append(drained, lvl.drainAll()...)
		return true
	})
	return drained
}

// SweepExpired removes every GTD order whose expiry has passed as of now,
// from every level on this side, removing any level that becomes empty as
// a result. Used by the matching engine's background reaper (through
// OrderBook.SweepExpired); the matching loop's lazy per-level check
// calls PriceLevel.RemoveExpired instead.
func (s *BookSide) SweepExpired(now int64) []*model.Order {
	s.mu.RLock()
	snap := s.levels.Copy()
	s.mu.RUnlock()

	var expired []*model.Order
	var emptied []*PriceLevel
	snap.Scan(func(lvl *PriceLevel) bool {
		removed := lvl.removeExpired(now)
		if len(removed) > 0 {
			expired = append(expired, removed...)
		}
		if lvl.Empty() {
			emptied = append(emptied, lvl)
		}
		return true
	})
	for _, lvl := range emptied {
		s.RemoveEmptyLevel(lvl)
	}
	return expired
}
