// Package matching implements the matching engine: order submission with
// price-time priority, TIF semantics (GTC/IOC/FOK/GTD) and iceberg
// reshuffle, plus cancellation and a trade listener fan-out.
package matching

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"orderbook/internal/book"
	"orderbook/internal/model"
)

// defaultReapInterval is how often the optional GTD reaper sweeps both
// sides for expired orders when Run is used.
const defaultReapInterval = time.Second

// TradeListener receives every trade a submission produces, called
// synchronously from the submitting goroutine - invocations are serialized
// within one submission but may interleave across concurrent submissions.
type TradeListener func(model.Trade)

// MatchReport is returned by every submission.
type MatchReport struct {
	FilledQuantity   uint64
	UnfilledQuantity uint64
	Trades           []model.Trade
	AveragePrice     decimal.Decimal
	RestingOrderID   *model.OrderID
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithReapInterval overrides the GTD reaper's sweep period.
func WithReapInterval(d time.Duration) Option {
	return func(e *Engine) { e.reapInterval = d }
}

// WithMetricsRegistry registers the engine's metrics on reg instead of a
// fresh private registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(e *Engine) { e.metrics = newMetrics(reg) }
}

// Engine is the matching engine for a single symbol's OrderBook.
//
// submitMu serializes the match-and-rest phase of submissions: without
// it, two crossing orders racing through the matching loop could each
// see the opposite side as empty and both rest, leaving a crossed book.
// Queries and cancellations stay concurrent on the per-side and
// per-level locks.
type Engine struct {
	Book *book.OrderBook

	submitMu sync.Mutex

	listenersMu    sync.RWMutex
	listeners      map[int]TradeListener
	nextListenerID int

	reportListenersMu    sync.RWMutex
	reportListeners      map[int]ReportListener
	nextReportListenerID int

	metrics *metrics

	reapInterval time.Duration
	t            *tomb.Tomb
}

// New creates an Engine for symbol.
func New(symbol string, opts ...Option) *Engine {
	e := &Engine{
		Book:            book.NewOrderBook(symbol),
		listeners:       make(map[int]TradeListener),
		reportListeners: make(map[int]ReportListener),
		reapInterval:    defaultReapInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(prometheus.NewRegistry())
	}
	return e
}

// Metrics exposes the engine's prometheus registry. Serving it over HTTP
// is the caller's concern (network transport is out of this module's
// scope); this only wires the collectors.
func (e *Engine) Metrics() *prometheus.Registry {
	return e.metrics.registry
}

// SubmitLimit submits a plain limit order.
func (e *Engine) SubmitLimit(id model.OrderID, side model.Side, price int64, qty uint64, tif model.TimeInForce, expiryUnixNano int64, extra any) (MatchReport, error) {
	o := &model.Order{
		ID:                id,
		Side:              side,
		OrderType:         model.LimitOrder,
		Price:             price,
		QuantityTotal:     qty,
		QuantityRemaining: qty,
		VisibleQuantity:   qty,
		TimeInForce:       tif,
		ExpiryUnixNano:    expiryUnixNano,
		Timestamp:         time.Now().UnixNano(),
		Extra:             extra,
	}
	return e.submit(o)
}

// SubmitMarket submits a market order: it always sweeps until filled or
// the opposite side is exhausted, and never rests a residual.
func (e *Engine) SubmitMarket(id model.OrderID, side model.Side, qty uint64, extra any) (MatchReport, error) {
	o := &model.Order{
		ID:                id,
		Side:              side,
		OrderType:         model.MarketOrder,
		QuantityTotal:     qty,
		QuantityRemaining: qty,
		VisibleQuantity:   qty,
		TimeInForce:       model.IOC,
		Timestamp:         time.Now().UnixNano(),
		Extra:             extra,
	}
	return e.submit(o)
}

// SubmitIceberg submits an iceberg order: only visibleQty of totalQty is
// exposed at a time; the visible slice refreshes from the hidden reserve
// at the tail of the queue each time it's consumed.
func (e *Engine) SubmitIceberg(id model.OrderID, side model.Side, price int64, totalQty, visibleQty uint64, tif model.TimeInForce, expiryUnixNano int64, extra any) (MatchReport, error) {
	o := &model.Order{
		ID:                id,
		Side:              side,
		OrderType:         model.IcebergOrder,
		Price:             price,
		QuantityTotal:     totalQty,
		QuantityRemaining: totalQty,
		VisibleQuantity:   visibleQty,
		TimeInForce:       tif,
		ExpiryUnixNano:    expiryUnixNano,
		Timestamp:         time.Now().UnixNano(),
		Extra:             extra,
	}
	return e.submit(o)
}

// Cancel removes order id from the book if it is still resting. Cancelling
// an order a concurrent match has already drained is not an error: it
// returns ErrNotFound idempotently. Cancelling a GTD
// order whose expiry has already passed (but that the lazy reaper hasn't
// swept yet) still removes it from the book, but reports ErrExpired
// rather than nil so the caller can tell the two cases apart.
func (e *Engine) Cancel(id model.OrderID) error {
	entry, ok := e.Book.LookupIndex(id)
	if !ok {
		return model.ErrNotFound
	}

	side := e.Book.Side(entry.Side)
	lvl, ok := side.LevelAt(entry.Price)
	if !ok {
		e.Book.UnregisterIndex(id)
		return model.ErrNotFound
	}

	removed := lvl.RemoveByID(id)
	e.Book.UnregisterIndex(id)
	if removed == nil {
		return model.ErrNotFound
	}
	if lvl.Empty() {
		side.RemoveEmptyLevel(lvl)
	}
	if removed.Expired(time.Now().UnixNano()) {
		return model.ErrExpired
	}
	return nil
}

// CancelAll cancels every resting order on side, or on both sides if side
// is nil, and returns how many orders were removed.
func (e *Engine) CancelAll(side *model.Side) int {
	return len(e.Book.CancelAll(side))
}

// Subscribe registers fn to receive every trade this engine's submissions
// produce, returning a function that unregisters it.
func (e *Engine) Subscribe(fn TradeListener) func() {
	e.listenersMu.Lock()
	id := e.nextListenerID
	e.nextListenerID++
	e.listeners[id] = fn
	e.listenersMu.Unlock()

	return func() {
		e.listenersMu.Lock()
		delete(e.listeners, id)
		e.listenersMu.Unlock()
	}
}

// SubscribeChan is the push-channel equivalent of Subscribe. A full
// channel drops the trade rather than blocking the submitting goroutine.
func (e *Engine) SubscribeChan(buffer int) (<-chan model.Trade, func()) {
	ch := make(chan model.Trade, buffer)
	unsub := e.Subscribe(func(t model.Trade) {
		select {
		case ch <- t:
		default:
			log.Warn().Str("symbol", e.Book.Symbol).Msg("trade listener channel full, dropping trade")
		}
	})
	return ch, unsub
}

func (e *Engine) publish(t model.Trade) {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	for _, fn := range e.listeners {
		fn(t)
	}
}

// Run starts the tomb-supervised GTD expiry reaper. It returns
// immediately; the reaper stops when ctx is cancelled or Close is called.
func (e *Engine) Run(ctx context.Context) {
	var tombCtx context.Context
	e.t, tombCtx = tomb.WithContext(ctx)
	e.t.Go(func() error {
		ticker := time.NewTicker(e.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.t.Dying():
				return nil
			case <-tombCtx.Done():
				return nil
			case <-ticker.C:
				e.reapExpired()
			}
		}
	})
}

// Close stops the GTD reaper started by Run and waits for it to exit.
func (e *Engine) Close() error {
	if e.t == nil {
		return nil
	}
	e.t.Kill(nil)
	return e.t.Wait()
}

func (e *Engine) reapExpired() {
	expired := e.Book.SweepExpired(time.Now().UnixNano())
	for _, o := range expired {
		log.Debug().
			Str("symbol", e.Book.Symbol).
			Str("orderID", o.ID.String()).
			Msg("GTD order expired")
	}
	e.metrics.observeExpiry(len(expired))
}

// submit is the single entry point every Submit* method funnels through:
// validity checks, FOK gate, matching loop, residual handling, report.
func (e *Engine) submit(order *model.Order) (MatchReport, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if e.Book.HasOrder(order.ID) {
		err := fmt.Errorf("%w: %s", model.ErrDuplicateID, order.ID)
		e.publishReports(nil, rejectReport(e.Book.Symbol, order.ID, err))
		return MatchReport{}, err
	}
	if order.QuantityTotal == 0 {
		e.publishReports(nil, rejectReport(e.Book.Symbol, order.ID, model.ErrZeroQuantity))
		return MatchReport{}, model.ErrZeroQuantity
	}
	if order.IsIceberg() && order.VisibleQuantity > order.QuantityTotal {
		e.publishReports(nil, rejectReport(e.Book.Symbol, order.ID, model.ErrInvalidIceberg))
		return MatchReport{}, model.ErrInvalidIceberg
	}

	limit := limitPrice(order)

	if order.TimeInForce == model.FOK {
		if !fokFeasible(e.Book, order.Side, limit, order.QuantityRemaining) {
			e.publishReports(nil, rejectReport(e.Book.Symbol, order.ID, model.ErrFOKUnfillable))
			return MatchReport{}, model.ErrFOKUnfillable
		}
	}

	trades := e.matchLoop(order, limit)
	if len(trades) > 0 {
		var allReports []TradeReport
		for _, t := range trades {
			allReports = append(allReports, tradeReports(e.Book.Symbol, t, order.Side)...)
		}
		e.publishReports(allReports, nil)
	}

	report := MatchReport{
		FilledQuantity:   order.QuantityTotal - order.QuantityRemaining,
		UnfilledQuantity: order.QuantityRemaining,
		Trades:           trades,
		AveragePrice:     averagePrice(trades),
	}

	discardsResidual := order.OrderType == model.MarketOrder ||
		order.TimeInForce == model.IOC ||
		order.TimeInForce == model.FOK

	if order.QuantityRemaining > 0 && !discardsResidual {
		restResidual(order)
		e.Book.Side(order.Side).Insert(order)
		e.Book.RegisterIndex(order.ID, order.Side, order.Price)
		id := order.ID
		report.RestingOrderID = &id
	}

	e.metrics.observeSubmit(order.OrderType)
	return report, nil
}

// matchLoop sweeps the opposite side while it crosses limit, filling
// order's QuantityRemaining and emitting one Trade per fill. It performs
// the lazy GTD-expiry check on every level it traverses.
func (e *Engine) matchLoop(order *model.Order, limit int64) []model.Trade {
	var trades []model.Trade
	opp := e.Book.Side(order.Side.Opposite())
	now := time.Now().UnixNano()

	for order.QuantityRemaining > 0 {
		lvl, ok := opp.BestLevel()
		if !ok {
			break
		}

		if expired := lvl.RemoveExpired(now); len(expired) > 0 {
			for _, eo := range expired {
				e.Book.UnregisterIndex(eo.ID)
			}
			e.metrics.observeExpiry(len(expired))
		}
		if lvl.Empty() {
			opp.RemoveEmptyLevel(lvl)
			continue
		}
		if !crosses(order.Side, lvl.Price(), limit) {
			break
		}

		fill, head, removed, _ := lvl.ConsumeFront(order.QuantityRemaining)
		if head == nil {
			// Level was drained by a concurrent cancel/match between
			// BestLevel and ConsumeFront; retry.
			opp.RemoveEmptyLevel(lvl)
			continue
		}
		if fill == 0 {
			// Defensive: a zero-visible head should never reach here, but
			// refuse to spin forever if it does.
			break
		}

		order.QuantityRemaining -= fill
		trade := model.Trade{
			MakerOrderID:  head.ID,
			TakerOrderID:  order.ID,
			Price:         lvl.Price(),
			Quantity:      fill,
			Timestamp:     now,
			Symbol:        e.Book.Symbol,
			AggressorSide: order.Side,
		}
		trades = append(trades, trade)
		e.publish(trade)
		e.metrics.observeTrade(fill)

		if removed {
			e.Book.UnregisterIndex(head.ID)
		}
		if lvl.Empty() {
			opp.RemoveEmptyLevel(lvl)
		}
	}
	return trades
}

// restResidual computes the visible/hidden split for an order about to
// rest, from its (possibly iceberg) original parameters and whatever
// quantity is left after matching.
func restResidual(order *model.Order) {
	if order.IsIceberg() {
		visible := order.VisibleQuantity
		if order.QuantityRemaining < visible {
			visible = order.QuantityRemaining
		}
		order.VisibleRemaining = visible
		order.HiddenRemaining = order.QuantityRemaining - visible
		return
	}
	order.VisibleRemaining = order.QuantityRemaining
	order.HiddenRemaining = 0
}

// limitPrice treats market orders as crossing any price: +infinity for a
// buy, 0 (the lowest possible tick) for a sell.
func limitPrice(order *model.Order) int64 {
	if order.OrderType == model.MarketOrder {
		if order.Side == model.Buy {
			return math.MaxInt64
		}
		return 0
	}
	return order.Price
}

// crosses reports whether a resting order at oppPrice, on the opposite
// side of side, crosses with limit.
func crosses(side model.Side, oppPrice, limit int64) bool {
	if side == model.Buy {
		return oppPrice <= limit
	}
	return oppPrice >= limit
}

// fokFeasible walks the opposite side's visible liquidity at crossing
// levels without mutating anything. Hidden iceberg reserves only count
// after a reshuffle exposes them, so FOK feasibility is visible-only.
func fokFeasible(ob *book.OrderBook, side model.Side, limit int64, qty uint64) bool {
	opp := ob.Side(side.Opposite())
	var sum uint64
	feasible := false
	opp.IterateFromBest(func(lvl *book.PriceLevel) bool {
		if !crosses(side, lvl.Price(), limit) {
			return false
		}
		sum += lvl.TotalVisible()
		if sum >= qty {
			feasible = true
			return false
		}
		return true
	})
	return feasible
}

// averagePrice is the quantity-weighted mean price over trades, or zero
// if there were none.
func averagePrice(trades []model.Trade) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for _, t := range trades {
		qty := decimal.NewFromInt(int64(t.Quantity))
		notional := decimal.NewFromInt(t.Price).Mul(qty)
		totalQty = totalQty.Add(qty)
		totalNotional = totalNotional.Add(notional)
	}
	return totalNotional.Div(totalQty)
}
