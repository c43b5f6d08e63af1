// Package pipeline turns the pipeline section of the configuration into a
// booked computation graph, runs it and reports the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cast"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/arrowsrc"
	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/dataframe"
	"tidb-dataframe/internal/introspection"
	"tidb-dataframe/internal/logging"
	"tidb-dataframe/internal/loop"
)

// Pipeline is a fully booked set of actions over one frame.
type Pipeline struct {
	root      *dataframe.Frame
	actions   []bookedAction
	snapshot  *dataframe.Result[arrow.Record]
	snapCols  []string
	snapPath  string
	verbosity logging.Verbosity
	logger    *logging.Logger
	warnings  []config.ValidationWarning
}

type bookedAction struct {
	cfg    config.ActionConfig
	kind   action.Kind
	result *dataframe.DynamicResult
}

// tableSource is implemented by sources backed by a described SQL table.
type tableSource interface {
	Table() *introspection.Table
}

// Build applies the range, filters, actions and snapshot of cfg to f. Every
// declaration problem is collected; the returned error is then a
// *config.ValidationResult listing all of them.
func Build(f *dataframe.Frame, cfg config.PipelineConfig, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	verbosity, err := logging.ParseVerbosity(cfg.Verbosity)
	if err != nil {
		verbosity = logging.VerbosityInfo
	}
	p := &Pipeline{root: f, verbosity: verbosity, logger: logger}
	result := &config.ValidationResult{}

	tail := f
	if cfg.Range.Enabled() {
		next, err := tail.Range(cfg.Range.Begin, cfg.Range.End, cfg.Range.Stride)
		if err != nil {
			result.AddError("pipeline.range", err.Error(), "")
		} else {
			tail = next
		}
	}

	for i, fc := range cfg.Filters {
		field := fmt.Sprintf("pipeline.filters[%d]", i)
		tag, err := tail.ColumnTag(fc.Column)
		if err != nil {
			result.AddError(field+".column", err.Error(), fmt.Sprintf("available columns: %s", strings.Join(f.Columns(), ", ")))
			continue
		}
		pred, err := compileFilter(fc, tag)
		if err != nil {
			result.AddError(field+".value", fmt.Sprintf("filter %q on %s column %q: %v", fc.Name, tag, fc.Column, err), "")
			continue
		}
		next, err := dataframe.FilterFunc(tail, fc.Name, []string{fc.Column}, pred)
		if err != nil {
			result.AddError(field, err.Error(), "")
			continue
		}
		tail = next
		if w, ok := enumWarning(f, fc); ok {
			result.AddWarning(field+".value", w, "")
		}
	}

	for i, ac := range cfg.Actions {
		field := fmt.Sprintf("pipeline.actions[%d]", i)
		kind, err := action.ParseKind(ac.Kind)
		if err != nil {
			result.AddError(field+".kind", err.Error(), kindHint())
			continue
		}
		if kind == action.KindAggregate || kind == action.KindSnapshot {
			result.AddError(field+".kind", fmt.Sprintf("%s cannot be declared as a pipeline action", kind), kindHint())
			continue
		}
		model := ac.Model
		if model.Name == "" {
			model.Name = ac.Name
		}
		res, err := dataframe.Book(tail, kind, model, ac.Columns...)
		if err != nil {
			result.AddError(field, fmt.Sprintf("action %q: %v", ac.Name, err), "")
			continue
		}
		p.actions = append(p.actions, bookedAction{cfg: ac, kind: kind, result: res})
	}

	if cfg.Snapshot.Enabled() {
		cols := cfg.Snapshot.Columns
		if len(cols) == 0 {
			cols = f.DefaultColumns()
		}
		tags := make([]coltype.Tag, len(cols))
		ok := true
		for i, name := range cols {
			if tags[i], err = tail.ColumnTag(name); err != nil {
				result.AddError("pipeline.snapshot.columns", err.Error(), "")
				ok = false
			}
		}
		if ok {
			snap, err := dataframe.Snapshot(tail, tags, cols...)
			if err != nil {
				result.AddError("pipeline.snapshot", err.Error(), "")
			} else {
				p.snapshot, p.snapCols, p.snapPath = snap, cols, cfg.Snapshot.Path
			}
		}
	}

	if result.HasErrors() {
		return nil, result
	}
	p.warnings = result.Warnings
	return p, nil
}

// Warnings returns the non-fatal findings of Build.
func (p *Pipeline) Warnings() []config.ValidationWarning { return p.warnings }

// Frame returns the root frame.
func (p *Pipeline) Frame() *dataframe.Frame { return p.root }

// Run executes every booked action in one pass and collects the report. A
// failed pass returns no report. Actions that failed on their own are listed
// with their error, and the joined action errors are returned alongside the
// report.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	ctx = logging.WithVerbosity(ctx, p.verbosity)
	m := p.root.Manager()
	start := time.Now()

	if err := p.root.Run(ctx); err != nil {
		var passErr *loop.PassError
		if errors.As(err, &passErr) {
			return nil, err
		}
		// Build and finalize errors are reported per action below.
		p.logger.Debug("run finished with action errors", slog.String("error", err.Error()))
	}

	report := &Report{
		RunID:   m.LastRunID(),
		Passes:  m.Passes(),
		Slots:   m.Slots(),
		Filters: filterReports(p.root.Report()),
		Actions: make([]ActionReport, 0, len(p.actions)),
	}

	var errs []error
	for _, b := range p.actions {
		ar := ActionReport{
			Name:      b.cfg.Name,
			Kind:      b.kind.String(),
			Signature: b.result.Signature(),
			Columns:   b.cfg.Columns,
		}
		target, err := b.result.Get(ctx)
		if err != nil {
			ar.Error = err.Error()
			errs = append(errs, fmt.Errorf("action %q: %w", b.cfg.Name, err))
		} else {
			ar.fillResult(target)
		}
		report.Actions = append(report.Actions, ar)
	}

	if p.snapshot != nil {
		sr, err := p.writeSnapshot(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			report.Snapshot = sr
		}
	}
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()

	p.logger.Info("pipeline finished",
		slog.String("run_id", report.RunID),
		slog.Int("actions", len(report.Actions)),
		slog.Int("failed", len(errs)),
		slog.String("elapsed", report.Elapsed),
	)
	return report, errors.Join(errs...)
}

func (p *Pipeline) writeSnapshot(ctx context.Context) (*SnapshotReport, error) {
	rec, err := p.snapshot.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rec.Release()
	if err := arrowsrc.WriteFile(p.snapPath, rec); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &SnapshotReport{Path: p.snapPath, Rows: rec.NumRows(), Columns: p.snapCols}, nil
}

// enumWarning flags equality filters on ENUM columns whose constants are not
// members of the enum. Such filters never match.
func enumWarning(f *dataframe.Frame, fc config.FilterConfig) (string, bool) {
	if fc.Op != OpEq && fc.Op != OpNe && fc.Op != OpIn {
		return "", false
	}
	ts, ok := f.Manager().Source().(tableSource)
	if !ok {
		return "", false
	}
	col, ok := ts.Table().Column(fc.Column)
	if !ok || len(col.EnumValues) == 0 {
		return "", false
	}
	values := []any{fc.Value}
	if list, ok := fc.Value.([]any); ok {
		values = list
	}
	for _, v := range values {
		s, err := cast.ToStringE(v)
		if err != nil || !slices.Contains(col.EnumValues, s) {
			return fmt.Sprintf("filter %q compares %q with %v, which is not one of %v", fc.Name, col.Name, v, col.EnumValues), true
		}
	}
	return "", false
}

func kindHint() string {
	names := make([]string, 0, len(action.Kinds()))
	for _, k := range action.Kinds() {
		if k == action.KindAggregate || k == action.KindSnapshot {
			continue
		}
		names = append(names, k.String())
	}
	return "one of: " + strings.Join(names, ", ")
}
