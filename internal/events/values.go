package events

import (
	"math/rand/v2"
)

// unit is the rounding step for generated values: one whole currency unit in minor units.
const unit = 100

// generateValues draws count values in [minValue, maxValue], rounded to whole units.
// When goal is positive the values are scaled and nudged so their sum lands as close to goal
// as the bounds allow.
func generateValues(rng *rand.Rand, count int, minValue, maxValue, goal int64) []int64 {
	lo := roundUp(minValue)
	hi := roundDown(maxValue)
	if hi < lo {
		// Range narrower than one unit; fall back to the raw bounds.
		lo, hi = minValue, maxValue
	}

	values := make([]int64, count)
	var sum int64
	for i := range values {
		values[i] = lo + randomSteps(rng, lo, hi)
		sum += values[i]
	}
	if goal <= 0 || sum == 0 {
		return values
	}

	target := clamp(roundNearest(goal), lo*int64(count), hi*int64(count))
	scale := float64(target) / float64(sum)
	sum = 0
	for i, v := range values {
		scaled := roundNearest(int64(float64(v) * scale))
		values[i] = clamp(scaled, lo, hi)
		sum += values[i]
	}

	// Nudge by whole units, visiting cards in random order, until the gap closes or no card can move.
	step := int64(unit)
	if hi-lo < unit {
		step = 1
	}
	for sum != target {
		moved := false
		for _, i := range rng.Perm(count) {
			if sum == target {
				break
			}
			diff := target - sum
			switch {
			case diff > 0 && values[i]+step <= hi:
				d := min(step, diff)
				values[i] += d
				sum += d
				moved = true
			case diff < 0 && values[i]-step >= lo:
				d := min(step, -diff)
				values[i] -= d
				sum -= d
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return values
}

func randomSteps(rng *rand.Rand, lo, hi int64) int64 {
	span := hi - lo
	if span <= 0 {
		return 0
	}
	if span%unit == 0 && lo%unit == 0 {
		return rng.Int64N(span/unit+1) * unit
	}
	return rng.Int64N(span + 1)
}

func roundUp(v int64) int64 {
	if v%unit == 0 {
		return v
	}
	return (v/unit + 1) * unit
}

func roundDown(v int64) int64 {
	return v / unit * unit
}

func roundNearest(v int64) int64 {
	return (v + unit/2) / unit * unit
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
