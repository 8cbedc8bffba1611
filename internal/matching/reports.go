package matching

import (
	"time"

	"orderbook/internal/model"
)

// TradeReport is one execution report per side of a trade, addressed to
// that side's own order id with the counterparty named. Wire encoding
// and transport are the caller's concern; this is the in-process value a
// SubscribeReports listener receives.
type TradeReport struct {
	Symbol        string
	OrderID       model.OrderID
	Counterparty  model.OrderID
	Side          model.Side
	Price         int64
	Quantity      uint64
	TimestampNano int64
}

// RejectReport is emitted when a submission fails a pre-match validity
// check or the FOK feasibility gate.
type RejectReport struct {
	Symbol        string
	OrderID       model.OrderID
	Reason        error
	TimestampNano int64
}

// ReportListener receives every TradeReport and RejectReport an engine's
// submissions produce. Like TradeListener, it is called synchronously
// from the submitting goroutine.
type ReportListener func(trades []TradeReport, reject *RejectReport)

// SubscribeReports registers fn to receive the two-sided execution
// reports (or the reject report) for every submission, returning an
// unsubscribe function.
func (e *Engine) SubscribeReports(fn ReportListener) func() {
	e.reportListenersMu.Lock()
	id := e.nextReportListenerID
	e.nextReportListenerID++
	e.reportListeners[id] = fn
	e.reportListenersMu.Unlock()

	return func() {
		e.reportListenersMu.Lock()
		delete(e.reportListeners, id)
		e.reportListenersMu.Unlock()
	}
}

func (e *Engine) publishReports(trades []TradeReport, reject *RejectReport) {
	e.reportListenersMu.RLock()
	defer e.reportListenersMu.RUnlock()
	if len(e.reportListeners) == 0 {
		return
	}
	for _, fn := range e.reportListeners {
		fn(trades, reject)
	}
}

// tradeReports builds the maker-side and taker-side TradeReport pair for
// a single fill.
func tradeReports(symbol string, t model.Trade, takerSide model.Side) []TradeReport {
	now := t.Timestamp
	return []TradeReport{
		{
			Symbol:        symbol,
			OrderID:       t.TakerOrderID,
			Counterparty:  t.MakerOrderID,
			Side:          takerSide,
			Price:         t.Price,
			Quantity:      t.Quantity,
			TimestampNano: now,
		},
		{
			Symbol:        symbol,
			OrderID:       t.MakerOrderID,
			Counterparty:  t.TakerOrderID,
			Side:          takerSide.Opposite(),
			Price:         t.Price,
			Quantity:      t.Quantity,
			TimestampNano: now,
		},
	}
}

func rejectReport(symbol string, id model.OrderID, reason error) *RejectReport {
	return &RejectReport{Symbol: symbol, OrderID: id, Reason: reason, TimestampNano: time.Now().UnixNano()}
}
