package iv

import (
	"math"

	"orderbook/internal/model"
)

const (
	epsPrice = 1e-6
	epsSigma = 1e-8
	epsVega  = 1e-8

	maxNewtonIter    = 100
	maxBisectionIter = 200

	sigmaLo = 1e-6
	sigmaHi = 10.0

	initialGuessLo = 0.01
	initialGuessHi = 5.0
)

// Solve inverts the Black-Scholes price for implied volatility with a
// hybrid Newton-Raphson/bisection iteration: Newton while vega carries
// it, bisection on the full sigma range when vega collapses or Newton
// overshoots twice in a row.
func Solve(p Params) (Result, error) {
	lo, hi := arbitrageBounds(p.OptionType, p.Spot, p.Strike, p.Rate, p.TimeToExpiry)
	if p.MarketPrice < lo || p.MarketPrice > hi {
		return Result{}, model.ErrPriceOutOfArbitrageBounds
	}

	quality, ok := classifyQuality(p.SpreadBps)
	if !ok {
		return Result{}, model.ErrIlliquidReject
	}

	forward := p.Spot - p.Strike*math.Exp(-p.Rate*p.TimeToExpiry)
	sigma0 := math.Sqrt(2*math.Pi/p.TimeToExpiry) * math.Abs(p.MarketPrice-forward/2) / p.Spot
	sigma := clamp(sigma0, initialGuessLo, initialGuessHi)

	overshoots := 0
	for iter := 1; iter <= maxNewtonIter; iter++ {
		price := blackScholes(p.OptionType, p.Spot, p.Strike, p.Rate, p.TimeToExpiry, sigma)
		diff := price - p.MarketPrice
		if math.Abs(diff) < epsPrice {
			return Result{IV: sigma, PriceUsed: p.MarketPrice, SpreadBps: p.SpreadBps, Iterations: iter, Quality: quality}, nil
		}

		v := vega(p.Spot, p.Strike, p.Rate, p.TimeToExpiry, sigma)
		if math.Abs(v) < epsVega {
			return bisect(p, quality, sigmaLo, sigmaHi, iter)
		}

		next := sigma - diff/v
		if next < sigmaLo || next > sigmaHi {
			overshoots++
			if overshoots >= 2 {
				return bisect(p, quality, sigmaLo, sigmaHi, iter)
			}
			next = clamp(next, sigmaLo, sigmaHi)
		} else {
			overshoots = 0
		}

		if math.Abs(next-sigma) < epsSigma {
			return Result{IV: next, PriceUsed: p.MarketPrice, SpreadBps: p.SpreadBps, Iterations: iter + 1, Quality: quality}, nil
		}
		sigma = next
	}

	return Result{}, model.ErrNonConvergent
}

// bisect runs bracketed bisection on [lo, hi], continuing the iteration
// count from the Newton phase that handed off to it.
func bisect(p Params, quality Quality, lo, hi float64, priorIterations int) (Result, error) {
	eval := func(sigma float64) float64 {
		return blackScholes(p.OptionType, p.Spot, p.Strike, p.Rate, p.TimeToExpiry, sigma) - p.MarketPrice
	}
	flo, fhi := eval(lo), eval(hi)
	if flo*fhi > 0 {
		// The arbitrage-bounds check only guarantees a root for some
		// positive sigma; when [lo, hi] does not bracket it (for example
		// the root lies above sigmaHi) the solve reports non-convergence.
		return Result{}, model.ErrNonConvergent
	}

	for i := 1; i <= maxBisectionIter; i++ {
		mid := (lo + hi) / 2
		fmid := eval(mid)
		if math.Abs(fmid) < epsPrice || (hi-lo)/2 < epsSigma {
			return Result{IV: mid, PriceUsed: p.MarketPrice, SpreadBps: p.SpreadBps, Iterations: priorIterations + i, Quality: quality}, nil
		}
		if sameSign(fmid, flo) {
			lo, flo = mid, fmid
		} else {
			hi, fhi = mid, fmid
		}
	}
	return Result{}, model.ErrNonConvergent
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// classifyQuality grades a spread in basis points; false means the
// liquidity gate rejects solving entirely.
func classifyQuality(spreadBps float64) (Quality, bool) {
	switch {
	case spreadBps < 100:
		return QualityHigh, true
	case spreadBps < 500:
		return QualityMedium, true
	case spreadBps < 10000:
		return QualityLow, true
	default:
		return 0, false
	}
}

// SolveFromSource extracts a spot price and spread from source and solves
// for implied volatility against sp's contract terms.
func SolveFromSource(source PriceSource, sp StaticParams) (Result, error) {
	spot, spreadBps, ok := source.Price()
	if !ok {
		return Result{}, model.ErrNotFound
	}
	return Solve(Params{
		Spot:         spot,
		Strike:       sp.Strike,
		Rate:         sp.Rate,
		TimeToExpiry: sp.TimeToExpiry,
		OptionType:   sp.OptionType,
		MarketPrice:  sp.MarketPrice,
		SpreadBps:    spreadBps,
	})
}
