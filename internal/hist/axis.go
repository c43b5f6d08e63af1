// Package hist provides the fixed-binning histogram and profile results filled by
// histogram-family actions.
package hist

import (
	"fmt"
	"math"
)

// Axis is a fixed-width binning of [Min, Max). Bin 0 is the underflow and bin
// Bins+1 the overflow.
type Axis struct {
	Bins int     `mapstructure:"bins" json:"bins" yaml:"bins"`
	Min  float64 `mapstructure:"min" json:"min" yaml:"min"`
	Max  float64 `mapstructure:"max" json:"max" yaml:"max"`
}

// HasLimits reports whether the axis range was set. A zero range means "estimate
// the limits from the data".
func (a Axis) HasLimits() bool {
	return !(a.Min == 0 && a.Max == 0)
}

func (a Axis) validate() error {
	if a.Bins <= 0 {
		return fmt.Errorf("axis needs at least one bin, got %d", a.Bins)
	}
	if a.HasLimits() && !(a.Max > a.Min) {
		return fmt.Errorf("axis max (%g) must be greater than min (%g)", a.Max, a.Min)
	}
	return nil
}

// Width returns the width of one bin.
func (a Axis) Width() float64 {
	return (a.Max - a.Min) / float64(a.Bins)
}

// Low returns the lower edge of bin b (1-based).
func (a Axis) Low(b int) float64 {
	return a.Min + float64(b-1)*a.Width()
}

// High returns the upper edge of bin b (1-based).
func (a Axis) High(b int) float64 {
	return a.Min + float64(b)*a.Width()
}

// Find returns the bin holding x, including the underflow (0) and overflow (Bins+1).
func (a Axis) Find(x float64) int {
	switch {
	case math.IsNaN(x):
		return a.Bins + 1
	case x < a.Min:
		return 0
	case x >= a.Max:
		return a.Bins + 1
	}
	b := 1 + int((x-a.Min)/a.Width())
	if b > a.Bins {
		b = a.Bins
	}
	return b
}

// AutoLimits widens the observed [lo, hi] range so that hi falls inside the last
// bin and a single repeated value still gets a non-empty range.
func AutoLimits(lo, hi float64, bins int) (float64, float64) {
	if lo == hi {
		pad := math.Abs(lo) * 0.05
		if pad == 0 {
			pad = 0.5
		}
		return lo - pad, hi + pad
	}
	if bins < 1 {
		bins = 1
	}
	return lo, hi + (hi-lo)/float64(bins)*1e-3
}
