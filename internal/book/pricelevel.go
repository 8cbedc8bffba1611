package book

import (
	"sync"

	"orderbook/internal/model"
)

// OrderView is a point-in-time copy of a resting order's queue-relevant
// fields, used by analytics/market-impact simulation and raw-snapshot
// serialization without holding the level lock for the caller's own
// processing.
type OrderView struct {
	ID               model.OrderID
	VisibleQuantity  uint64
	VisibleRemaining uint64
	HiddenRemaining  uint64
	TimeInForce      model.TimeInForce
}

// PriceLevel is a FIFO queue of orders sharing one price and side, with
// cached visible/hidden sums kept in lock-step with the queue so reads
// (total_visible, total_hidden, count) are O(1).
type PriceLevel struct {
	price int64
	side  model.Side

	mu         sync.Mutex
	orders     []*model.Order
	visibleSum uint64
	hiddenSum  uint64
	nextSeq    uint64
}

func newPriceLevel(price int64, side model.Side) *PriceLevel {
	return &PriceLevel{price: price, side: side}
}

// Price is the level's price; immutable after creation, safe to read
// without the lock.
func (l *PriceLevel) Price() int64 { return l.price }

// Side is the level's side; immutable after creation.
func (l *PriceLevel) Side() model.Side { return l.side }

// PushBack enqueues an order at the tail, assigning it the next enqueue
// sequence for tie-breaking and updating the cached sums.
func (l *PriceLevel) PushBack(o *model.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushBackLocked(o)
}

func (l *PriceLevel) pushBackLocked(o *model.Order) {
	l.nextSeq++
	o.AssignSeq(l.nextSeq)
	l.orders = append(l.orders, o)
	l.visibleSum += o.VisibleRemaining
	l.hiddenSum += o.HiddenRemaining
}

// PeekFront returns the head order without removing it, or nil if empty.
func (l *PriceLevel) PeekFront() *model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.orders) == 0 {
		return nil
	}
	return l.orders[0]
}

// ConsumeFront deducts up to qty from the head order's visible remaining.
// It returns the quantity actually filled (bounded by the head's visible
// remaining), the head order touched, and which of three outcomes
// occurred:
//   - removed:    the visible slice hit zero with no hidden reserve; the
//     order is fully filled and has been removed from the queue.
//   - reshuffled: the visible slice hit zero but a hidden reserve remained;
//     a fresh visible slice was exposed and the order re-enqueued at the
//     tail, losing queue priority.
//   - neither:    the order still has visible remaining; it stays at the
//     head.
func (l *PriceLevel) ConsumeFront(qty uint64) (fill uint64, head *model.Order, removed bool, reshuffled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.orders) == 0 {
		return 0, nil, false, false
	}
	head = l.orders[0]

	fill = qty
	if head.VisibleRemaining < fill {
		fill = head.VisibleRemaining
	}
	head.VisibleRemaining -= fill
	head.QuantityRemaining -= fill
	l.visibleSum -= fill

	if head.VisibleRemaining > 0 {
		return fill, head, false, false
	}

	if head.HiddenRemaining > 0 {
		newVisible := head.VisibleQuantity
		if head.HiddenRemaining < newVisible {
			newVisible = head.HiddenRemaining
		}
		l.hiddenSum -= newVisible
		head.HiddenRemaining -= newVisible
		head.VisibleRemaining = newVisible
		l.visibleSum += newVisible

		// Re-enqueue at the tail with a fresh sequence; the sums were
		// already adjusted in place above, so this must not go through
		// pushBackLocked (which would count the order a second time).
		l.orders = l.orders[1:]
		l.nextSeq++
		head.AssignSeq(l.nextSeq)
		l.orders = append(l.orders, head)
		return fill, head, false, true
	}

	l.orders = l.orders[1:]
	return fill, head, true, false
}

// RemoveByID scans the level for an order with the given id, removes and
// returns it. Returns nil if not present.
func (l *PriceLevel) RemoveByID(id model.OrderID) *model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, o := range l.orders {
		if o.ID == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			l.visibleSum -= o.VisibleRemaining
			l.hiddenSum -= o.HiddenRemaining
			return o
		}
	}
	return nil
}

// RemoveExpired is the exported form of removeExpired, called by the
// matching engine's traversal-time lazy expiry check. The background
// reaper reaches removeExpired through BookSide.SweepExpired.
func (l *PriceLevel) RemoveExpired(now int64) []*model.Order {
	return l.removeExpired(now)
}

// removeExpired drops every order whose GTD expiry has passed as of now,
// wherever it sits in the queue, and returns the removed orders.
func (l *PriceLevel) removeExpired(now int64) []*model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.orders) == 0 {
		return nil
	}
	var removed []*model.Order
	kept := l.orders[:0]
	for _, o := range l.orders {
		if o.Expired(now) {
			removed = append(removed, o)
			l.visibleSum -= o.VisibleRemaining
			l.hiddenSum -= o.HiddenRemaining
			continue
		}
		kept = append(kept, o)
	}
	l.orders = kept
	return removed
}

// drainAll empties the level entirely, returning every resting order.
func (l *PriceLevel) drainAll() []*model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.orders
	l.orders = nil
	l.visibleSum = 0
	l.hiddenSum = 0
	return out
}

// TotalVisible is the cached sum of visible-remaining quantity over the
// queue; O(1).
func (l *PriceLevel) TotalVisible() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visibleSum
}

// TotalHidden is the cached sum of hidden iceberg reserve over the queue;
// O(1).
func (l *PriceLevel) TotalHidden() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hiddenSum
}

// Count is the number of resting orders at this level.
func (l *PriceLevel) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

// Empty reports whether the level currently holds no orders.
func (l *PriceLevel) Empty() bool {
	return l.Count() == 0
}

// Snapshot returns a point-in-time copy of the queued orders' views, head
// first, for analytics and serialization that must not hold the level
// lock while they work.
func (l *PriceLevel) Snapshot() []OrderView {
	l.mu.Lock()
	defer l.mu.Unlock()
	views := make([]OrderView, len(l.orders))
	for i, o := range l.orders {
		views[i] = OrderView{
			ID:               o.ID,
			VisibleQuantity:  o.VisibleQuantity,
			VisibleRemaining: o.VisibleRemaining,
			HiddenRemaining:  o.HiddenRemaining,
			TimeInForce:      o.TimeInForce,
		}
	}
	return views
}
