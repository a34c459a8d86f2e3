// Package decay computes the effective weight of a causal edge as the
// project clock advances past the edge's creation point (component F).
package decay

import (
	"math"
	"time"
)

// Direction selects which decay family an edge's effective weight is
// computed with. It mirrors whether a walk is recalling (backward, toward
// the causally earlier endpoint) or predicting (forward, toward the
// later one) — see the edges table's source/target convention.
type Direction string

const (
	Backward Direction = "backward"
	Forward  Direction = "forward"
)

// DefaultMinWeight is the floor below which an edge is considered dead.
const DefaultMinWeight = 0.01

// Curve maps a hop count to the fraction of initial_weight remaining.
// It is not itself clamped to [0, 1]; EffectiveWeight does the clamping.
type Curve func(hops int64) float64

// LinearBackward decays at rate 0.1 per hop, dying at 10 hops. This is
// the default curve for backward (recall) edges.
func LinearBackward(hops int64) float64 {
	return 1 - 0.1*float64(hops)
}

// DelayedLinearForward holds full weight for the first 5 hops, then
// decays linearly at rate 0.067 per hop, dying around 20 hops. This is
// the default curve for forward (predict) edges.
func DelayedLinearForward(hops int64) float64 {
	if hops <= 5 {
		return 1
	}
	return 1 - 0.067*float64(hops-5)
}

// Exponential returns a curve w0·e^(-rate·d), for experiments and legacy
// edges tagged with an explicit curve family.
func Exponential(rate float64) Curve {
	return func(hops int64) float64 {
		return math.Exp(-rate * float64(hops))
	}
}

// PowerLaw returns a curve w0·(1+k·d)^(-alpha).
func PowerLaw(k, alpha float64) Curve {
	return func(hops int64) float64 {
		return math.Pow(1+k*float64(hops), -alpha)
	}
}

// Tier is one segment of a MultiTierLinear curve: weight holds at 1
// for the first HoldHops, then contributes Rate per additional hop.
type Tier struct {
	HoldHops int64
	Rate     float64
}

// MultiTierLinear sums the decay contributed by each tier, for legacy
// edges that were created under a multi-segment decay schedule.
func MultiTierLinear(tiers []Tier) Curve {
	return func(hops int64) float64 {
		remaining := 1.0
		for _, t := range tiers {
			if hops > t.HoldHops {
				remaining -= float64(hops-t.HoldHops) * t.Rate
			}
		}
		return remaining
	}
}

// DefaultCurve returns the curve family for direction.
func DefaultCurve(direction Direction) Curve {
	if direction == Forward {
		return DelayedLinearForward
	}
	return LinearBackward
}

// EffectiveWeight applies curve to hops and clamps the result to
// [0, initialWeight].
func EffectiveWeight(initialWeight float64, hops int64, curve Curve) float64 {
	fraction := curve(hops)
	w := initialWeight * fraction
	if w < 0 {
		return 0
	}
	if w > initialWeight {
		return initialWeight
	}
	return w
}

// TimeBasedWeight decays a legacy edge lacking a vector clock using
// wall-clock age instead of hop count, with the same curve family.
func TimeBasedWeight(initialWeight float64, createdAt, queryTime time.Time, curve Curve, hoursPerHop float64) float64 {
	ageHours := queryTime.Sub(createdAt).Hours()
	hops := int64(ageHours / hoursPerHop)
	return EffectiveWeight(initialWeight, hops, curve)
}

// LinkCountBoost applies the logarithmic read-time boost for edges that
// have been re-asserted more than once: boosted = w·(1 + ln(linkCount)·0.1).
// It is never persisted, only applied when an edge is read for scoring.
func LinkCountBoost(weight float64, linkCount int) float64 {
	if linkCount <= 1 {
		return weight
	}
	return weight * (1 + math.Log(float64(linkCount))*0.1)
}

// IsDead reports whether weight has decayed below the floor.
func IsDead(weight float64, minWeight float64) bool {
	return weight < minWeight
}
