package detect

import "math"

// BoundKind names which configured threshold a breaching value crossed.
type BoundKind string

const (
	BoundMin BoundKind = "min"
	BoundMax BoundKind = "max"
)

// Evaluation is the outcome of checking one value against a sensor's
// configured thresholds. Deviation is the uncapped normalized distance past
// the crossed bound (0..1+); Score is the same quantity scaled to 0..100 and
// capped.
type Evaluation struct {
	Breach    bool
	Deviation float64
	Score     float64
	Bound     *float64
	BoundKind BoundKind
}

// Evaluate is pure and safe for concurrent use: no I/O, no shared state.
//
// With both bounds configured and a positive range, deviation is normalized
// by the range. With a single bound (or a degenerate min>=max configuration,
// which falls back to per-bound evaluation) it is normalized by the bound's
// absolute magnitude. A breached zero-magnitude bound yields deviation 1.
func Evaluate(value float64, minThreshold, maxThreshold *float64) Evaluation {
	if minThreshold == nil && maxThreshold == nil {
		return Evaluation{}
	}
	if minThreshold != nil && maxThreshold != nil {
		if rng := *maxThreshold - *minThreshold; rng > 0 {
			switch {
			case value < *minThreshold:
				return breachResult((*minThreshold-value)/rng, minThreshold, BoundMin)
			case value > *maxThreshold:
				return breachResult((value-*maxThreshold)/rng, maxThreshold, BoundMax)
			default:
				return Evaluation{}
			}
		}
	}
	if minThreshold != nil && value < *minThreshold {
		return breachResult(singleBoundDeviation(*minThreshold-value, *minThreshold), minThreshold, BoundMin)
	}
	if maxThreshold != nil && value > *maxThreshold {
		return breachResult(singleBoundDeviation(value-*maxThreshold, *maxThreshold), maxThreshold, BoundMax)
	}
	return Evaluation{}
}

func breachResult(deviation float64, bound *float64, kind BoundKind) Evaluation {
	b := *bound
	return Evaluation{
		Breach:    true,
		Deviation: deviation,
		Score:     math.Min(100, deviation*100),
		Bound:     &b,
		BoundKind: kind,
	}
}

func singleBoundDeviation(distance, bound float64) float64 {
	magnitude := math.Abs(bound)
	if magnitude == 0 {
		return 1
	}
	return distance / magnitude
}
