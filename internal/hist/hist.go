package hist

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Filler is implemented by results that accept one fill per record. Arity is the
// number of values consumed per fill, not counting the weight.
type Filler interface {
	Arity() int
	FillWeighted(vals []float64, w float64)
}

// Model describes a histogram to create.
type Model struct {
	Name  string `mapstructure:"name" json:"name" yaml:"name"`
	Title string `mapstructure:"title" json:"title,omitempty" yaml:"title,omitempty"`
	Axes  []Axis `mapstructure:"axes" json:"axes" yaml:"axes"`
}

// Hist is a 1 to 3 dimensional histogram with fixed binning. Fills are safe for
// concurrent use.
type Hist struct {
	mu      sync.Mutex
	name    string
	title   string
	axes    []Axis
	strides []int
	content []float64
	sumw2   []float64
	entries uint64
	sumw    float64
	sumwx   []float64
	sumwx2  []float64
}

// New creates a histogram.
func New(name, title string, axes ...Axis) (*Hist, error) {
	if len(axes) < 1 || len(axes) > 3 {
		return nil, fmt.Errorf("histogram %q: %d axes requested, 1 to 3 are supported", name, len(axes))
	}
	h := &Hist{name: name, title: title, axes: append([]Axis(nil), axes...)}
	size := 1
	h.strides = make([]int, len(axes))
	for i, a := range axes {
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("histogram %q axis %d: %w", name, i, err)
		}
		h.strides[i] = size
		size *= a.Bins + 2
	}
	h.content = make([]float64, size)
	h.sumw2 = make([]float64, size)
	h.sumwx = make([]float64, len(axes))
	h.sumwx2 = make([]float64, len(axes))
	return h, nil
}

// FromModel creates a histogram from a model.
func FromModel(m Model) (*Hist, error) {
	return New(m.Name, m.Title, m.Axes...)
}

func (h *Hist) Name() string  { return h.name }
func (h *Hist) Title() string { return h.title }
func (h *Hist) Dim() int      { return len(h.axes) }

// Arity returns the number of coordinates per fill.
func (h *Hist) Arity() int { return len(h.axes) }

// Axis returns a copy of axis i.
func (h *Hist) Axis(i int) Axis {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.axes[i]
}

// HasAxisLimits reports whether every axis has explicit limits.
func (h *Hist) HasAxisLimits() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range h.axes {
		if !a.HasLimits() {
			return false
		}
	}
	return true
}

// SetLimits sets the range of a 1D histogram that has not been filled yet.
func (h *Hist) SetLimits(lo, hi float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.axes) != 1 {
		return errors.New("limits can only be estimated for 1D histograms")
	}
	if h.entries > 0 {
		return errors.New("cannot change limits of a filled histogram")
	}
	a := h.axes[0]
	a.Min, a.Max = lo, hi
	if err := a.validate(); err != nil {
		return err
	}
	h.axes[0] = a
	return nil
}

// Fill adds one entry with unit weight.
func (h *Hist) Fill(xs ...float64) {
	h.FillWeighted(xs, 1)
}

// FillWeighted adds one entry with weight w. Extra coordinates are ignored and
// missing ones are treated as underflow.
func (h *Hist) FillWeighted(xs []float64, w float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := 0
	inRange := true
	for i, a := range h.axes {
		b := 0
		if i < len(xs) {
			b = a.Find(xs[i])
		}
		if b == 0 || b == a.Bins+1 {
			inRange = false
		}
		idx += b * h.strides[i]
	}
	h.content[idx] += w
	h.sumw2[idx] += w * w
	h.entries++
	if !inRange {
		return
	}
	h.sumw += w
	for i := range h.axes {
		h.sumwx[i] += w * xs[i]
		h.sumwx2[i] += w * xs[i] * xs[i]
	}
}

// Entries returns the number of fills, including under- and overflows.
func (h *Hist) Entries() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries
}

// BinContent returns the content of the cell addressed by one bin per axis.
func (h *Hist) BinContent(bins ...int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.index(bins)
	if !ok {
		return 0
	}
	return h.content[idx]
}

// BinError returns the statistical error of a cell.
func (h *Hist) BinError(bins ...int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.index(bins)
	if !ok {
		return 0
	}
	return math.Sqrt(h.sumw2[idx])
}

func (h *Hist) index(bins []int) (int, bool) {
	if len(bins) != len(h.axes) {
		return 0, false
	}
	idx := 0
	for i, b := range bins {
		if b < 0 || b > h.axes[i].Bins+1 {
			return 0, false
		}
		idx += b * h.strides[i]
	}
	return idx, true
}

// Integral returns the sum of in-range cell contents.
func (h *Hist) Integral() float64 {
	var total float64
	for _, c := range h.Cells() {
		total += c.Content
	}
	return total
}

// Mean returns the weighted mean of in-range fills along an axis.
func (h *Hist) Mean(axis int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sumw == 0 {
		return 0
	}
	return h.sumwx[axis] / h.sumw
}

// StdDev returns the weighted standard deviation of in-range fills along an axis.
func (h *Hist) StdDev(axis int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sumw == 0 {
		return 0
	}
	mean := h.sumwx[axis] / h.sumw
	v := h.sumwx2[axis]/h.sumw - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Cell is one in-range histogram cell.
type Cell struct {
	Bins    []int
	Low     []float64
	High    []float64
	Content float64
	Error   float64
}

// Cells returns all in-range cells, first axis varying fastest.
func (h *Hist) Cells() []Cell {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cells []Cell
	bins := make([]int, len(h.axes))
	for i := range bins {
		bins[i] = 1
	}
	for {
		idx, _ := h.index(bins)
		c := Cell{
			Bins:    append([]int(nil), bins...),
			Low:     make([]float64, len(bins)),
			High:    make([]float64, len(bins)),
			Content: h.content[idx],
			Error:   math.Sqrt(h.sumw2[idx]),
		}
		for i, b := range bins {
			c.Low[i] = h.axes[i].Low(b)
			c.High[i] = h.axes[i].High(b)
		}
		cells = append(cells, c)

		i := 0
		for ; i < len(bins); i++ {
			bins[i]++
			if bins[i] <= h.axes[i].Bins {
				break
			}
			bins[i] = 1
		}
		if i == len(bins) {
			return cells
		}
	}
}

// Merge adds the contents of o, which must have identical binning.
func (h *Hist) Merge(o *Hist) error {
	if h == o {
		return errors.New("cannot merge a histogram into itself")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.axes) != len(o.axes) {
		return fmt.Errorf("cannot merge %dD histogram into %dD histogram", len(o.axes), len(h.axes))
	}
	for i := range h.axes {
		if h.axes[i] != o.axes[i] {
			return fmt.Errorf("axis %d binning differs", i)
		}
	}
	for i := range h.content {
		h.content[i] += o.content[i]
		h.sumw2[i] += o.sumw2[i]
	}
	h.entries += o.entries
	h.sumw += o.sumw
	for i := range h.axes {
		h.sumwx[i] += o.sumwx[i]
		h.sumwx2[i] += o.sumwx2[i]
	}
	return nil
}
