package iv

import "orderbook/internal/model"

// SurfaceInput is one strike's quoted market price to invert.
type SurfaceInput struct {
	Strike      float64
	MarketPrice float64
}

// SurfacePoint is one strike's solved (or failed) result.
type SurfacePoint struct {
	Strike float64
	Result Result
	Err    error
}

// Surface solves implied volatility independently for each input,
// sharing a single spot/spread snapshot taken once from source. This is
// a raw per-strike surface only - smoothing it with a parametric model
// (SVI/SABR) is left to the caller.
func Surface(source PriceSource, rate, timeToExpiry float64, optType OptionType, inputs []SurfaceInput) []SurfacePoint {
	spot, spreadBps, ok := source.Price()

	points := make([]SurfacePoint, len(inputs))
	for i, in := range inputs {
		if !ok {
			points[i] = SurfacePoint{Strike: in.Strike, Err: model.ErrNotFound}
			continue
		}
		res, err := Solve(Params{
			Spot:         spot,
			Strike:       in.Strike,
			Rate:         rate,
			TimeToExpiry: timeToExpiry,
			OptionType:   optType,
			MarketPrice:  in.MarketPrice,
			SpreadBps:    spreadBps,
		})
		points[i] = SurfacePoint{Strike: in.Strike, Result: res, Err: err}
	}
	return points
}
