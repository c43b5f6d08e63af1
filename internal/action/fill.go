package action

import (
	"fmt"
	"math"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/hist"
)

// DirectFill fills a target that is safe for concurrent fills straight from
// every slot. Only a per-slot scratch buffer is kept.
type DirectFill struct {
	target   hist.Filler
	weighted bool
	scratch  [][]float64
}

func newDirectFill(target hist.Filler, weighted bool, slots int) *DirectFill {
	scratch := make([][]float64, slots)
	for i := range scratch {
		scratch[i] = make([]float64, target.Arity())
	}
	return &DirectFill{target: target, weighted: weighted, scratch: scratch}
}

func (f *DirectFill) InitSlot(int) {}

func (f *DirectFill) Exec(slot int, args []any) error {
	buf := f.scratch[slot]
	w, err := collect(buf, args, f.weighted)
	if err != nil {
		return err
	}
	f.target.FillWeighted(buf, w)
	return nil
}

func (f *DirectFill) Finalize() error { return nil }

// BufferedFill keeps values per slot until Finalize, then derives axis limits
// from the observed range and fills the target in ascending slot order. It is
// used for one dimensional histograms created without limits.
type BufferedFill struct {
	target   *hist.Hist
	weighted bool
	xs       [][]float64
	ws       [][]float64
	scratch  [][]float64
}

func newBufferedFill(target *hist.Hist, weighted bool, slots int) *BufferedFill {
	f := &BufferedFill{
		target:   target,
		weighted: weighted,
		xs:       make([][]float64, slots),
		ws:       make([][]float64, slots),
		scratch:  make([][]float64, slots),
	}
	for i := range f.scratch {
		f.scratch[i] = make([]float64, 1)
	}
	return f
}

func (f *BufferedFill) InitSlot(slot int) {
	f.xs[slot] = f.xs[slot][:0]
	f.ws[slot] = f.ws[slot][:0]
}

func (f *BufferedFill) Exec(slot int, args []any) error {
	buf := f.scratch[slot]
	w, err := collect(buf, args, f.weighted)
	if err != nil {
		return err
	}
	f.xs[slot] = append(f.xs[slot], buf[0])
	f.ws[slot] = append(f.ws[slot], w)
	return nil
}

// Buffered returns the number of values currently held.
func (f *BufferedFill) Buffered() int {
	n := 0
	for _, xs := range f.xs {
		n += len(xs)
	}
	return n
}

func (f *BufferedFill) Finalize() error {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, xs := range f.xs {
		for _, x := range xs {
			if math.IsNaN(x) {
				continue
			}
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
	}
	if math.IsInf(lo, 1) {
		// Nothing finite was seen. The target keeps its unset limits.
		return nil
	}
	if !f.target.HasAxisLimits() {
		low, high := hist.AutoLimits(lo, hi, f.target.Axis(0).Bins)
		if err := f.target.SetLimits(low, high); err != nil {
			return fmt.Errorf("set histogram limits: %w", err)
		}
	}
	x := make([]float64, 1)
	for slot, xs := range f.xs {
		for i, v := range xs {
			x[0] = v
			f.target.FillWeighted(x, f.ws[slot][i])
		}
	}
	return nil
}

// collect converts fill arguments to float64 into buf and returns the weight.
// When weighted is set the last argument is the weight.
func collect(buf []float64, args []any, weighted bool) (float64, error) {
	for i := range buf {
		v, err := coltype.ToFloat64(args[i])
		if err != nil {
			return 0, err
		}
		buf[i] = v
	}
	if !weighted {
		return 1, nil
	}
	return coltype.ToFloat64(args[len(buf)])
}
