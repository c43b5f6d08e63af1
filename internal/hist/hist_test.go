package hist

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAxisFind(t *testing.T) {
	a := Axis{Bins: 10, Min: 0, Max: 10}

	assert.Equal(t, 0, a.Find(-0.1))
	assert.Equal(t, 1, a.Find(0))
	assert.Equal(t, 1, a.Find(0.99))
	assert.Equal(t, 10, a.Find(9.999))
	assert.Equal(t, 11, a.Find(10))
	assert.Equal(t, 11, a.Find(math.NaN()))
}

func TestAxisHasLimits(t *testing.T) {
	assert.False(t, Axis{Bins: 10}.HasLimits())
	assert.True(t, Axis{Bins: 10, Min: 0, Max: 10}.HasLimits())
	assert.True(t, Axis{Bins: 10, Min: -1, Max: 0}.HasLimits())
}

func TestAutoLimits(t *testing.T) {
	lo, hi := AutoLimits(2, 2, 10)
	assert.Less(t, lo, 2.0)
	assert.Greater(t, hi, 2.0)

	lo, hi = AutoLimits(0, 0, 10)
	assert.Equal(t, -0.5, lo)
	assert.Equal(t, 0.5, hi)

	lo, hi = AutoLimits(1, 5, 4)
	assert.Equal(t, 1.0, lo)
	assert.Greater(t, hi, 5.0)
	a := Axis{Bins: 4, Min: lo, Max: hi}
	assert.Equal(t, 4, a.Find(5))
}

func TestNewRejectsBadAxes(t *testing.T) {
	_, err := New("h", "", Axis{Bins: 0, Min: 0, Max: 1})
	assert.Error(t, err)

	_, err = New("h", "", Axis{Bins: 2, Min: 1, Max: 0})
	assert.Error(t, err)

	_, err = New("h", "")
	assert.Error(t, err)
}

func TestFill1D(t *testing.T) {
	h, err := New("h", "x", Axis{Bins: 4, Min: 0, Max: 4})
	require.NoError(t, err)

	h.Fill(0.5)
	h.Fill(1.5)
	h.FillWeighted([]float64{1.7}, 2)
	h.Fill(-1)
	h.Fill(7)

	assert.Equal(t, uint64(5), h.Entries())
	assert.Equal(t, 1.0, h.BinContent(1))
	assert.Equal(t, 3.0, h.BinContent(2))
	assert.Equal(t, 1.0, h.BinContent(0))
	assert.Equal(t, 1.0, h.BinContent(5))
	assert.Equal(t, 4.0, h.Integral())
	assert.InDelta(t, (0.5+1.5+2*1.7)/4, h.Mean(0), 1e-12)
	assert.InDelta(t, math.Sqrt(5), h.BinError(2), 1e-12)
}

func TestFill2D(t *testing.T) {
	h, err := New("h2", "", Axis{Bins: 2, Min: 0, Max: 2}, Axis{Bins: 3, Min: 0, Max: 3})
	require.NoError(t, err)

	h.Fill(0.5, 2.5)
	h.Fill(1.5, 0.5)

	assert.Equal(t, 1.0, h.BinContent(1, 3))
	assert.Equal(t, 1.0, h.BinContent(2, 1))
	assert.Equal(t, 0.0, h.BinContent(1, 1))
	assert.Len(t, h.Cells(), 6)
}

func TestConcurrentFill(t *testing.T) {
	h, err := New("h", "", Axis{Bins: 10, Min: 0, Max: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.Fill(float64(i % 10))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), h.Entries())
	assert.Equal(t, 800.0, h.BinContent(3))
}

func TestSetLimits(t *testing.T) {
	h, err := New("h", "", Axis{Bins: 5})
	require.NoError(t, err)
	assert.False(t, h.HasAxisLimits())

	require.NoError(t, h.SetLimits(0, 5))
	assert.True(t, h.HasAxisLimits())

	h.Fill(1)
	assert.Error(t, h.SetLimits(0, 10))

	h2, err := New("h2", "", Axis{Bins: 2, Min: 0, Max: 1}, Axis{Bins: 2, Min: 0, Max: 1})
	require.NoError(t, err)
	assert.Error(t, h2.SetLimits(0, 2))
}

func TestMerge(t *testing.T) {
	a, err := New("a", "", Axis{Bins: 2, Min: 0, Max: 2})
	require.NoError(t, err)
	b, err := New("b", "", Axis{Bins: 2, Min: 0, Max: 2})
	require.NoError(t, err)
	c, err := New("c", "", Axis{Bins: 3, Min: 0, Max: 2})
	require.NoError(t, err)

	a.Fill(0.5)
	b.Fill(0.5)
	b.Fill(1.5)

	require.NoError(t, a.Merge(b))
	assert.Equal(t, 2.0, a.BinContent(1))
	assert.Equal(t, uint64(3), a.Entries())
	assert.Error(t, a.Merge(c))
	assert.Error(t, a.Merge(a))
}

func TestProfile(t *testing.T) {
	p, err := NewProfile("p", "", Axis{Bins: 2, Min: 0, Max: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Arity())

	p.FillWeighted([]float64{0.5, 1}, 1)
	p.FillWeighted([]float64{0.5, 3}, 1)
	p.FillWeighted([]float64{1.5, 10}, 1)

	assert.Equal(t, 2.0, p.BinMean(1))
	assert.Equal(t, 1.0, p.BinSpread(1))
	assert.Equal(t, uint64(2), p.BinEntries(1))
	assert.Equal(t, 10.0, p.BinMean(2))
	assert.Equal(t, uint64(3), p.Entries())

	cells := p.Cells()
	require.Len(t, cells, 2)
	assert.Equal(t, ProfileCell{Bins: []int{1}, Low: []float64{0}, High: []float64{1}, Mean: 2, Spread: 1, Entries: 2}, cells[0])
	assert.Equal(t, 10.0, cells[1].Mean)
	assert.Equal(t, 0.0, cells[1].Spread)

	_, err = NewProfile("p", "", Axis{Bins: 2})
	assert.Error(t, err)
}

func TestHasAxisLimits_EveryAxis(t *testing.T) {
	h, err := New("h", "", Axis{Bins: 4, Min: 0, Max: 1}, Axis{Bins: 4})
	require.NoError(t, err)
	assert.False(t, h.HasAxisLimits())

	h, err = New("h", "", Axis{Bins: 4, Min: 0, Max: 1}, Axis{Bins: 4, Min: -1, Max: 1})
	require.NoError(t, err)
	assert.True(t, h.HasAxisLimits())
}
