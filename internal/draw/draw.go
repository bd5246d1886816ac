// Package draw implements the weighted draw used to pick a reward from the
// campaign pool. The draw itself is pure: randomness is supplied by the
// caller through a Roller so outcomes are reproducible in tests.
package draw

import (
	"errors"
	"math"
)

// ErrInvalidDistribution is returned when the candidate weights carry no
// probability mass at all.
var ErrInvalidDistribution = errors.New("invalid weight distribution")

// PickIndex maps roll mod totalWeight onto cumulative weight buckets in
// list order and returns the index of the first entry whose cumulative
// weight strictly exceeds the threshold.
func PickIndex(weights []int64, roll int64) (int, error) {
	var total int64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0, ErrInvalidDistribution
	}

	threshold := roll % total
	var cumulative int64
	for i, w := range weights {
		cumulative += w
		if threshold < cumulative {
			return i, nil
		}
	}
	return len(weights) - 1, nil
}

// EffectiveWeight scales a reward's base weight by its remaining daily
// capacity. Uncapped rewards keep their base weight; capped rewards decay
// proportionally but never below 1 while any capacity remains, so rounding
// alone cannot starve a reward that still has stock.
func EffectiveWeight(base int64, remaining, capToday *int64) int64 {
	if capToday == nil || remaining == nil {
		return base
	}
	if *capToday <= 0 || *remaining <= 0 {
		return 0
	}
	w := int64(math.Round(float64(base) * float64(*remaining) / float64(*capToday)))
	if w < 1 {
		return 1
	}
	return w
}

// TotalWeight sums a weight list.
func TotalWeight(weights []int64) int64 {
	var total int64
	for _, w := range weights {
		total += w
	}
	return total
}
