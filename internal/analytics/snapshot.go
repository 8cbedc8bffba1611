package analytics

import (
	"github.com/shopspring/decimal"

	"orderbook/internal/book"
)

// EnrichedSnapshotFormatVersion is bumped whenever the shape of
// EnrichedSnapshot changes.
const EnrichedSnapshotFormatVersion = 1

// Metric is a bit in the bitmask controlling which optional metrics
// BuildEnrichedSnapshot computes, so callers can skip expensive ones.
type Metric uint8

const (
	MetricMidPrice Metric = 1 << iota
	MetricSpreadBps
	MetricTotalDepth
	MetricVWAP
	MetricImbalance

	MetricAll = MetricMidPrice | MetricSpreadBps | MetricTotalDepth | MetricVWAP | MetricImbalance
)

// LevelView is one price level's visible/hidden totals, for serialization
// and display without exposing the live PriceLevel.
type LevelView struct {
	Price   int64
	Visible uint64
	Hidden  uint64
}

// EnrichedSnapshot is an immutable top-N view of both sides plus whichever
// optional metrics the caller's bitmask requested. Fields left out of the
// bitmask are nil, not zero, so callers can tell "absent" from "computed
// as zero".
type EnrichedSnapshot struct {
	Symbol            string
	FormatVersion     int
	TimestampUnixNano int64

	BidLevels []LevelView
	AskLevels []LevelView

	MidPrice  *decimal.Decimal
	SpreadBps *decimal.Decimal
	BidDepth  *uint64
	AskDepth  *uint64
	BidVWAP   *decimal.Decimal
	AskVWAP   *decimal.Decimal
	Imbalance *decimal.Decimal
}

// BuildEnrichedSnapshot takes the top n levels of both sides of ob plus
// whichever metrics are set in the bitmask, at the given timestamp.
// Every bid-derived field (BidLevels, BidDepth, BidVWAP, and the bid
// side of MidPrice/SpreadBps/Imbalance) is computed from one
// sideAggregate traversal of the bids, and every ask-derived field from
// one traversal of the asks, instead of each metric re-walking the book
// on its own fresh btree snapshot at its own instant - the returned
// record is internally consistent per side.
func BuildEnrichedSnapshot(ob *book.OrderBook, n int, metrics Metric, nowUnixNano int64) EnrichedSnapshot {
	needDepthOrImbalance := metrics&(MetricTotalDepth|MetricImbalance) != 0
	needVWAP := metrics&MetricVWAP != 0
	needBest := metrics&(MetricMidPrice|MetricSpreadBps) != 0

	bidAgg := aggregateSide(ob.Bids, n, needDepthOrImbalance, needVWAP, needBest)
	askAgg := aggregateSide(ob.Asks, n, needDepthOrImbalance, needVWAP, needBest)

	snap := EnrichedSnapshot{
		Symbol:            ob.Symbol,
		FormatVersion:     EnrichedSnapshotFormatVersion,
		TimestampUnixNano: nowUnixNano,
		BidLevels:         bidAgg.levels,
		AskLevels:         askAgg.levels,
	}

	if needBest && bidAgg.hasBest && askAgg.hasBest {
		sum := decimal.NewFromInt(bidAgg.bestPrice).Add(decimal.NewFromInt(askAgg.bestPrice))
		mid := sum.Div(decimal.NewFromInt(2))
		if metrics&MetricMidPrice != 0 {
			snap.MidPrice = &mid
		}
		if metrics&MetricSpreadBps != 0 && !mid.IsZero() {
			spread := decimal.NewFromInt(askAgg.bestPrice - bidAgg.bestPrice)
			bps := decimal.NewFromInt(10000).Mul(spread).Div(mid)
			snap.SpreadBps = &bps
		}
	}
	if metrics&MetricTotalDepth != 0 {
		bidDepth, askDepth := bidAgg.depth, askAgg.depth
		snap.BidDepth = &bidDepth
		snap.AskDepth = &askDepth
	}
	if needVWAP {
		if !bidAgg.vwapQty.IsZero() {
			v := bidAgg.vwapNotional.Div(bidAgg.vwapQty)
			snap.BidVWAP = &v
		}
		if !askAgg.vwapQty.IsZero() {
			v := askAgg.vwapNotional.Div(askAgg.vwapQty)
			snap.AskVWAP = &v
		}
	}
	if metrics&MetricImbalance != 0 {
		denom := bidAgg.depth + askAgg.depth
		if denom != 0 {
			imb := decimal.NewFromInt(int64(bidAgg.depth)).
				Sub(decimal.NewFromInt(int64(askAgg.depth))).
				Div(decimal.NewFromInt(int64(denom)))
			snap.Imbalance = &imb
		}
	}
	return snap
}

// sideAggregate is everything BuildEnrichedSnapshot needs from one side,
// computed in a single IterateFromBest pass over that side's top n
// levels.
type sideAggregate struct {
	levels       []LevelView
	bestPrice    int64
	hasBest      bool
	depth        uint64
	vwapNotional decimal.Decimal
	vwapQty      decimal.Decimal
}

func aggregateSide(side *book.BookSide, n int, wantDepth, wantVWAP, wantBest bool) sideAggregate {
	agg := sideAggregate{vwapNotional: decimal.Zero, vwapQty: decimal.Zero}
	count := 0
	side.IterateFromBest(func(lvl *book.PriceLevel) bool {
		price := lvl.Price()
		if count == 0 && wantBest {
			// Best price is always the first level IterateFromBest yields,
			// regardless of n, so MidPrice/SpreadBps stay correct even when
			// the caller asked for zero displayed levels.
			agg.bestPrice, agg.hasBest = price, true
		}
		if count >= n {
			return false
		}
		vis := lvl.TotalVisible()
		agg.levels = append(agg.levels, LevelView{Price: price, Visible: vis, Hidden: lvl.TotalHidden()})
		if wantDepth {
			agg.depth += vis
		}
		if wantVWAP && vis > 0 {
			agg.vwapNotional = agg.vwapNotional.Add(decimal.NewFromInt(price).Mul(decimal.NewFromInt(int64(vis))))
			agg.vwapQty = agg.vwapQty.Add(decimal.NewFromInt(int64(vis)))
		}
		count++
		return count < n
	})
	return agg
}
