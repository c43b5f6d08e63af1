package hist

import (
	"fmt"
	"math"
	"sync"
)

// Profile records the mean of a value per cell of a 1 or 2 dimensional binning.
// Fills are safe for concurrent use.
type Profile struct {
	mu      sync.Mutex
	name    string
	title   string
	axes    []Axis
	strides []int
	sumw    []float64
	sumwy   []float64
	sumwy2  []float64
	entries []uint64
}

// NewProfile creates a profile over 1 or 2 axes.
func NewProfile(name, title string, axes ...Axis) (*Profile, error) {
	if len(axes) < 1 || len(axes) > 2 {
		return nil, fmt.Errorf("profile %q: %d axes requested, 1 or 2 are supported", name, len(axes))
	}
	p := &Profile{name: name, title: title, axes: append([]Axis(nil), axes...)}
	size := 1
	p.strides = make([]int, len(axes))
	for i, a := range axes {
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("profile %q axis %d: %w", name, i, err)
		}
		if !a.HasLimits() {
			return nil, fmt.Errorf("profile %q axis %d: explicit limits are required", name, i)
		}
		p.strides[i] = size
		size *= a.Bins + 2
	}
	p.sumw = make([]float64, size)
	p.sumwy = make([]float64, size)
	p.sumwy2 = make([]float64, size)
	p.entries = make([]uint64, size)
	return p, nil
}

func (p *Profile) Name() string  { return p.name }
func (p *Profile) Title() string { return p.title }
func (p *Profile) Dim() int      { return len(p.axes) }

// Arity is the number of axes plus the profiled value.
func (p *Profile) Arity() int { return len(p.axes) + 1 }

// HasAxisLimits is always true: profiles are created with explicit limits.
func (p *Profile) HasAxisLimits() bool { return true }

// FillWeighted adds the value vals[Dim()] at coordinates vals[:Dim()].
func (p *Profile) FillWeighted(vals []float64, w float64) {
	if len(vals) < len(p.axes)+1 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := 0
	for i, a := range p.axes {
		idx += a.Find(vals[i]) * p.strides[i]
	}
	y := vals[len(p.axes)]
	p.sumw[idx] += w
	p.sumwy[idx] += w * y
	p.sumwy2[idx] += w * y * y
	p.entries[idx]++
}

func (p *Profile) index(bins []int) (int, bool) {
	if len(bins) != len(p.axes) {
		return 0, false
	}
	idx := 0
	for i, b := range bins {
		if b < 0 || b > p.axes[i].Bins+1 {
			return 0, false
		}
		idx += b * p.strides[i]
	}
	return idx, true
}

// BinMean returns the weighted mean of the profiled value in a cell.
func (p *Profile) BinMean(bins ...int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.index(bins)
	if !ok || p.sumw[idx] == 0 {
		return 0
	}
	return p.sumwy[idx] / p.sumw[idx]
}

// BinSpread returns the weighted standard deviation of the profiled value in a cell.
func (p *Profile) BinSpread(bins ...int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.index(bins)
	if !ok || p.sumw[idx] == 0 {
		return 0
	}
	mean := p.sumwy[idx] / p.sumw[idx]
	v := p.sumwy2[idx]/p.sumw[idx] - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// BinEntries returns the number of fills in a cell.
func (p *Profile) BinEntries(bins ...int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.index(bins)
	if !ok {
		return 0
	}
	return p.entries[idx]
}

// Entries returns the total number of fills.
func (p *Profile) Entries() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for _, e := range p.entries {
		n += e
	}
	return n
}

// Axis returns a copy of axis i.
func (p *Profile) Axis(i int) Axis { return p.axes[i] }

// ProfileCell is one in-range profile cell.
type ProfileCell struct {
	Bins    []int
	Low     []float64
	High    []float64
	Mean    float64
	Spread  float64
	Entries uint64
}

// Cells returns all in-range cells, first axis varying fastest.
func (p *Profile) Cells() []ProfileCell {
	p.mu.Lock()
	defer p.mu.Unlock()
	var cells []ProfileCell
	bins := make([]int, len(p.axes))
	for i := range bins {
		bins[i] = 1
	}
	for {
		idx, _ := p.index(bins)
		c := ProfileCell{
			Bins:    append([]int(nil), bins...),
			Low:     make([]float64, len(bins)),
			High:    make([]float64, len(bins)),
			Entries: p.entries[idx],
		}
		if w := p.sumw[idx]; w != 0 {
			c.Mean = p.sumwy[idx] / w
			if v := p.sumwy2[idx]/w - c.Mean*c.Mean; v > 0 {
				c.Spread = math.Sqrt(v)
			}
		}
		for i, b := range bins {
			c.Low[i] = p.axes[i].Low(b)
			c.High[i] = p.axes[i].High(b)
		}
		cells = append(cells, c)

		i := 0
		for ; i < len(bins); i++ {
			bins[i]++
			if bins[i] <= p.axes[i].Bins {
				break
			}
			bins[i] = 1
		}
		if i == len(bins) {
			return cells
		}
	}
}
