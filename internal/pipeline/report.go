package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"

	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/hist"
	"tidb-dataframe/internal/loop"
)

// Report is the outcome of one pipeline run.
type Report struct {
	RunID    string          `json:"run_id" yaml:"run_id"`
	Passes   int             `json:"passes" yaml:"passes"`
	Slots    int             `json:"slots" yaml:"slots"`
	Elapsed  string          `json:"elapsed" yaml:"elapsed"`
	Filters  []FilterReport  `json:"filters" yaml:"filters"`
	Actions  []ActionReport  `json:"actions" yaml:"actions"`
	Snapshot *SnapshotReport `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
}

// Action returns the report of the named action.
func (r *Report) Action(name string) (ActionReport, bool) {
	for _, a := range r.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionReport{}, false
}

// FilterReport holds the counters of one named filter.
type FilterReport struct {
	Name     string  `json:"name" yaml:"name"`
	Accepted uint64  `json:"accepted" yaml:"accepted"`
	Rejected uint64  `json:"rejected" yaml:"rejected"`
	Pass     float64 `json:"pass" yaml:"pass"`
}

func filterReports(stats []loop.FilterStat) []FilterReport {
	out := make([]FilterReport, len(stats))
	for i, s := range stats {
		out[i] = FilterReport{Name: s.Name, Accepted: s.Accepted, Rejected: s.Rejected, Pass: s.Pass()}
	}
	return out
}

// ActionReport is the result of one configured action. Exactly one of Value,
// Histogram, Profile and Error is set.
type ActionReport struct {
	Name      string           `json:"name" yaml:"name"`
	Kind      string           `json:"kind" yaml:"kind"`
	Signature string           `json:"signature" yaml:"signature"`
	Columns   []string         `json:"columns,omitempty" yaml:"columns,omitempty"`
	Value     any              `json:"value,omitempty" yaml:"value,omitempty"`
	Histogram *HistogramReport `json:"histogram,omitempty" yaml:"histogram,omitempty"`
	Profile   *ProfileReport   `json:"profile,omitempty" yaml:"profile,omitempty"`
	Error     string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// HistogramReport summarizes a histogram. Cells excludes under- and overflow.
type HistogramReport struct {
	Name     string       `json:"name" yaml:"name"`
	Title    string       `json:"title,omitempty" yaml:"title,omitempty"`
	Entries  uint64       `json:"entries" yaml:"entries"`
	Integral float64      `json:"integral" yaml:"integral"`
	Mean     []float64    `json:"mean" yaml:"mean"`
	StdDev   []float64    `json:"std_dev" yaml:"std_dev"`
	Axes     []hist.Axis  `json:"axes" yaml:"axes"`
	Cells    []CellReport `json:"cells" yaml:"cells"`
}

type CellReport struct {
	Bins    []int     `json:"bins" yaml:"bins,flow"`
	Low     []float64 `json:"low" yaml:"low,flow"`
	High    []float64 `json:"high" yaml:"high,flow"`
	Content float64   `json:"content" yaml:"content"`
	Error   float64   `json:"error" yaml:"error"`
}

// ProfileReport summarizes a profile.
type ProfileReport struct {
	Name    string              `json:"name" yaml:"name"`
	Title   string              `json:"title,omitempty" yaml:"title,omitempty"`
	Entries uint64              `json:"entries" yaml:"entries"`
	Axes    []hist.Axis         `json:"axes" yaml:"axes"`
	Cells   []ProfileCellReport `json:"cells" yaml:"cells"`
}

type ProfileCellReport struct {
	Bins    []int     `json:"bins" yaml:"bins,flow"`
	Low     []float64 `json:"low" yaml:"low,flow"`
	High    []float64 `json:"high" yaml:"high,flow"`
	Mean    float64   `json:"mean" yaml:"mean"`
	Spread  float64   `json:"spread" yaml:"spread"`
	Entries uint64    `json:"entries" yaml:"entries"`
}

// SnapshotReport describes the Arrow file written by the snapshot step.
type SnapshotReport struct {
	Path    string   `json:"path" yaml:"path"`
	Rows    int64    `json:"rows" yaml:"rows"`
	Columns []string `json:"columns" yaml:"columns"`
}

func summarizeHist(h *hist.Hist) *HistogramReport {
	r := &HistogramReport{
		Name:     h.Name(),
		Title:    h.Title(),
		Entries:  h.Entries(),
		Integral: h.Integral(),
	}
	for i := 0; i < h.Dim(); i++ {
		r.Mean = append(r.Mean, h.Mean(i))
		r.StdDev = append(r.StdDev, h.StdDev(i))
		r.Axes = append(r.Axes, h.Axis(i))
	}
	for _, c := range h.Cells() {
		r.Cells = append(r.Cells, CellReport{Bins: c.Bins, Low: c.Low, High: c.High, Content: c.Content, Error: c.Error})
	}
	return r
}

func summarizeProfile(p *hist.Profile) *ProfileReport {
	r := &ProfileReport{Name: p.Name(), Title: p.Title(), Entries: p.Entries()}
	for i := 0; i < p.Dim(); i++ {
		r.Axes = append(r.Axes, p.Axis(i))
	}
	for _, c := range p.Cells() {
		r.Cells = append(r.Cells, ProfileCellReport{Bins: c.Bins, Low: c.Low, High: c.High, Mean: c.Mean, Spread: c.Spread, Entries: c.Entries})
	}
	return r
}

// fillResult stores target, a pointer filled by an action, in the report.
func (a *ActionReport) fillResult(target any) {
	switch t := target.(type) {
	case *hist.Hist:
		a.Histogram = summarizeHist(t)
	case *hist.Profile:
		a.Profile = summarizeProfile(t)
	default:
		v := reflect.ValueOf(target)
		if v.Kind() == reflect.Pointer && !v.IsNil() {
			a.Value = v.Elem().Interface()
			return
		}
		a.Value = target
	}
}

// Write encodes the report to out.Path in out.Format. Path "-" is stdout.
func Write(r *Report, out config.OutputConfig) (err error) {
	var w io.Writer = os.Stdout
	if out.Path != "" && out.Path != "-" {
		f, err := os.Create(out.Path)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return Encode(w, r, out.Format)
}

// Encode writes the report as "yaml" or "json".
func Encode(w io.Writer, r *Report, format string) error {
	switch format {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
