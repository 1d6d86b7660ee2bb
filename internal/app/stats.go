package app

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// QuantileValue is one requested quantile of a latency distribution.
type QuantileValue struct {
	Q     float64 `json:"q"`
	Value float64 `json:"value"`
}

// LatencyStats describes a latency distribution.
type LatencyStats struct {
	Count     int             `json:"count"`
	Mean      float64         `json:"mean"`
	Std       float64         `json:"std"`
	Min       float64         `json:"min"`
	Max       float64         `json:"max"`
	Quantiles []QuantileValue `json:"quantiles"`
}

// validateQuantiles rejects quantiles outside [0,1].
func validateQuantiles(qs []float64) error {
	for _, q := range qs {
		if math.IsNaN(q) || q < 0 || q > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidQuantile, q)
		}
	}
	return nil
}

// describe computes mean, sample standard deviation, extrema and linearly
// interpolated quantiles. An empty input yields zero values.
func describe(values []float64, qs []float64) LatencyStats {
	out := LatencyStats{Count: len(values), Quantiles: make([]QuantileValue, 0, len(qs))}
	if len(values) == 0 {
		for _, q := range qs {
			out.Quantiles = append(out.Quantiles, QuantileValue{Q: q})
		}
		return out
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	if len(sorted) > 1 {
		out.Mean, out.Std = stat.MeanStdDev(sorted, nil)
	} else {
		out.Mean = sorted[0]
	}
	out.Min = floats.Min(sorted)
	out.Max = floats.Max(sorted)
	for _, q := range qs {
		out.Quantiles = append(out.Quantiles, QuantileValue{Q: q, Value: quantile(sorted, q)})
	}
	return out
}

// quantile interpolates between closest ranks of an ascending slice, placing
// q at position q*(n-1). stat.Quantile's LinInterp interpolates the empirical
// CDF at q*n instead, which shifts every interior quantile.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
