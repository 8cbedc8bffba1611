// Package analytics derives book metrics by lazy, early-exiting traversal
// over the iterator contract internal/book exposes, tolerant of concurrent
// mutation. Every divided/derived field is a decimal.Decimal rather than a
// float, matching how the rest of this module treats price arithmetic.
package analytics

import (
	"math"

	"github.com/shopspring/decimal"

	"orderbook/internal/book"
	"orderbook/internal/model"
)

// MidPrice is (best_bid + best_ask) / 2, absent if either side is empty.
func MidPrice(ob *book.OrderBook) (decimal.Decimal, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	sum := decimal.NewFromInt(bid).Add(decimal.NewFromInt(ask))
	return sum.Div(decimal.NewFromInt(2)), true
}

// SpreadAbsolute is best_ask - best_bid, absent if either side is empty.
func SpreadAbsolute(ob *book.OrderBook) (int64, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask - bid, true
}

// SpreadBps is 10^4 * spread / mid.
func SpreadBps(ob *book.OrderBook) (decimal.Decimal, bool) {
	spread, ok := SpreadAbsolute(ob)
	if !ok {
		return decimal.Zero, false
	}
	mid, ok := MidPrice(ob)
	if !ok || mid.IsZero() {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(10000).Mul(decimal.NewFromInt(spread)).Div(mid), true
}

// VWAP is the visible-quantity-weighted average price over the first n
// levels of side.
func VWAP(ob *book.OrderBook, side model.Side, n int) (decimal.Decimal, bool) {
	var notional, qty decimal.Decimal
	count := 0
	ob.Side(side).IterateFromBest(func(lvl *book.PriceLevel) bool {
		if count >= n {
			return false
		}
		vis := lvl.TotalVisible()
		if vis > 0 {
			notional = notional.Add(decimal.NewFromInt(lvl.Price()).Mul(decimal.NewFromInt(int64(vis))))
			qty = qty.Add(decimal.NewFromInt(int64(vis)))
		}
		count++
		return count < n
	})
	if qty.IsZero() {
		return decimal.Zero, false
	}
	return notional.Div(qty), true
}

// MicroPrice weights each best price by the *opposite* side's best visible
// size: (best_bid*ask_qty + best_ask*bid_qty) / (bid_qty + ask_qty).
func MicroPrice(ob *book.OrderBook) (decimal.Decimal, bool) {
	bidLvl, okBid := ob.Bids.BestLevel()
	askLvl, okAsk := ob.Asks.BestLevel()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	bidQty := bidLvl.TotalVisible()
	askQty := askLvl.TotalVisible()
	denom := bidQty + askQty
	if denom == 0 {
		return decimal.Zero, false
	}
	num := decimal.NewFromInt(bidLvl.Price()).Mul(decimal.NewFromInt(int64(askQty))).
		Add(decimal.NewFromInt(askLvl.Price()).Mul(decimal.NewFromInt(int64(bidQty))))
	return num.Div(decimal.NewFromInt(int64(denom))), true
}

// OrderBookImbalance is (sum_bid - sum_ask) / (sum_bid + sum_ask) over the
// first n levels of each side, in [-1, 1].
func OrderBookImbalance(ob *book.OrderBook, n int) (decimal.Decimal, bool) {
	bidDepth := TotalDepthAtLevels(ob, model.Buy, n)
	askDepth := TotalDepthAtLevels(ob, model.Sell, n)
	denom := bidDepth + askDepth
	if denom == 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(int64(bidDepth)).
		Sub(decimal.NewFromInt(int64(askDepth))).
		Div(decimal.NewFromInt(int64(denom))), true
}

// TotalDepthAtLevels sums visible quantity over the first n levels of side.
func TotalDepthAtLevels(ob *book.OrderBook, side model.Side, n int) uint64 {
	var total uint64
	count := 0
	ob.Side(side).IterateFromBest(func(lvl *book.PriceLevel) bool {
		if count >= n {
			return false
		}
		total += lvl.TotalVisible()
		count++
		return count < n
	})
	return total
}

// PriceAtDepth walks from the best price until cumulative visible depth
// reaches target, short-circuiting as soon as it does, and returns the
// price of the level where that happened.
func PriceAtDepth(ob *book.OrderBook, side model.Side, target uint64) (int64, bool) {
	var cum uint64
	var price int64
	found := false
	ob.Side(side).IterateFromBest(func(lvl *book.PriceLevel) bool {
		cum += lvl.TotalVisible()
		if cum >= target {
			price = lvl.Price()
			found = true
			return false
		}
		return true
	})
	return price, found
}

// LiquidityInRange sums visible quantity over levels whose price falls in
// [lo, hi], stopping early once traversal has passed beyond the range in
// the direction prices are moving.
func LiquidityInRange(ob *book.OrderBook, side model.Side, lo, hi int64) uint64 {
	var sum uint64
	ob.Side(side).IterateFromBest(func(lvl *book.PriceLevel) bool {
		p := lvl.Price()
		below, above := p < lo, p > hi
		if side == model.Buy && below {
			return false // descending prices: nothing further can re-enter [lo, hi].
		}
		if side == model.Sell && above {
			return false // ascending prices: same, in the other direction.
		}
		if !below && !above {
			sum += lvl.TotalVisible()
		}
		return true
	})
	return sum
}

// LevelsUntilDepth is the number of levels traversed from the best price
// until cumulative visible depth reaches target, and whether it ever did.
func LevelsUntilDepth(ob *book.OrderBook, side model.Side, target uint64) (int, bool) {
	var cum uint64
	levels := 0
	found := false
	ob.Side(side).IterateFromBest(func(lvl *book.PriceLevel) bool {
		levels++
		cum += lvl.TotalVisible()
		if cum >= target {
			found = true
			return false
		}
		return true
	})
	return levels, found
}

// DepthStats is the result of DepthStatistics.
type DepthStats struct {
	Total            uint64
	Mean             decimal.Decimal
	Min              uint64
	Max              uint64
	StdDev           decimal.Decimal
	WeightedAvgPrice decimal.Decimal
}

// DepthStatistics summarizes visible quantity per level over the first n
// levels of side. Mean/StdDev go through float64 (shopspring/decimal has
// no square root) and back; WeightedAvgPrice stays exact decimal
// arithmetic throughout.
func DepthStatistics(ob *book.OrderBook, side model.Side, n int) DepthStats {
	var levels []*book.PriceLevel
	count := 0
	ob.Side(side).IterateFromBest(func(lvl *book.PriceLevel) bool {
		if count >= n {
			return false
		}
		levels = append(levels, lvl)
		count++
		return count < n
	})
	if len(levels) == 0 {
		return DepthStats{}
	}

	var total uint64
	var min, max uint64
	notional := decimal.Zero
	for i, lvl := range levels {
		vis := lvl.TotalVisible()
		total += vis
		if i == 0 || vis < min {
			min = vis
		}
		if i == 0 || vis > max {
			max = vis
		}
		notional = notional.Add(decimal.NewFromInt(lvl.Price()).Mul(decimal.NewFromInt(int64(vis))))
	}

	mean := float64(total) / float64(len(levels))
	var variance float64
	for _, lvl := range levels {
		d := float64(lvl.TotalVisible()) - mean
		variance += d * d
	}
	variance /= float64(len(levels))

	weightedAvg := decimal.Zero
	if total > 0 {
		weightedAvg = notional.Div(decimal.NewFromInt(int64(total)))
	}

	return DepthStats{
		Total:            total,
		Mean:             decimal.NewFromFloat(mean),
		Min:              min,
		Max:              max,
		StdDev:           decimal.NewFromFloat(math.Sqrt(variance)),
		WeightedAvgPrice: weightedAvg,
	}
}

// Fill is one simulated execution against a resting level.
type Fill struct {
	Price    int64
	Quantity uint64
}

// MarketImpactResult is the outcome of simulating an order without
// mutating the book.
type MarketImpactResult struct {
	AveragePrice   decimal.Decimal
	TotalCost      decimal.Decimal
	SlippageBps    decimal.Decimal
	LevelsConsumed int
	Fills          []Fill
}

// MarketImpact simulates submitting an order for qty on side exactly as
// the matching engine would fill it, without mutating anything, using a
// point-in-time Snapshot of each level it visits. Iceberg orders in the
// snapshot are walked through the same hidden-reserve reshuffle
// PriceLevel.ConsumeFront performs (re-exposing the reserve at the tail
// of the simulated queue), so a level backed by a large iceberg reports
// the same simulated fill the real matching engine would produce against
// it, not just its currently-visible slice. Slippage is measured against
// the opposing side's best price at the moment of simulation.
func MarketImpact(ob *book.OrderBook, side model.Side, qty uint64) MarketImpactResult {
	opp := ob.Side(side.Opposite())
	oppBest, hasOppBest := opp.BestPrice()

	var result MarketImpactResult
	var filled uint64
	notional := decimal.Zero

	opp.IterateFromBest(func(lvl *book.PriceLevel) bool {
		if filled >= qty {
			return false
		}
		remaining := qty - filled
		levelFill := simulateLevelFill(lvl.Snapshot(), remaining)
		if levelFill == 0 {
			return true
		}
		result.Fills = append(result.Fills, Fill{Price: lvl.Price(), Quantity: levelFill})
		notional = notional.Add(decimal.NewFromInt(lvl.Price()).Mul(decimal.NewFromInt(int64(levelFill))))
		filled += levelFill
		result.LevelsConsumed++
		return filled < qty
	})

	if filled == 0 {
		return result
	}
	result.AveragePrice = notional.Div(decimal.NewFromInt(int64(filled)))
	result.TotalCost = notional
	if hasOppBest && oppBest != 0 {
		diff := result.AveragePrice.Sub(decimal.NewFromInt(oppBest)).Abs()
		result.SlippageBps = diff.Mul(decimal.NewFromInt(10000)).Div(decimal.NewFromInt(oppBest))
	}
	return result
}

// simulateLevelFill replays PriceLevel.ConsumeFront's head-visible /
// iceberg-reshuffle / full-remove logic over a copy of one level's queue
// view, without touching the live level, and returns the total quantity
// it would fill for a taker wanting up to remaining units.
func simulateLevelFill(views []book.OrderView, remaining uint64) uint64 {
	queue := append([]book.OrderView(nil), views...)
	var filled uint64

	for remaining > 0 && len(queue) > 0 {
		head := queue[0]

		take := remaining
		if head.VisibleRemaining < take {
			take = head.VisibleRemaining
		}
		head.VisibleRemaining -= take
		filled += take
		remaining -= take

		if head.VisibleRemaining > 0 {
			queue[0] = head
			break
		}

		queue = queue[1:]
		if head.HiddenRemaining > 0 {
			newVisible := head.VisibleQuantity
			if head.HiddenRemaining < newVisible {
				newVisible = head.HiddenRemaining
			}
			head.HiddenRemaining -= newVisible
			head.VisibleRemaining = newVisible
			queue = append(queue, head)
		}
	}
	return filled
}

// IsThinBook reports whether either side's depth over its first n levels
// falls below threshold.
func IsThinBook(ob *book.OrderBook, threshold uint64, n int) bool {
	return TotalDepthAtLevels(ob, model.Buy, n) < threshold ||
		TotalDepthAtLevels(ob, model.Sell, n) < threshold
}
