// Package loop coordinates event loop passes: it owns the computation graph,
// books actions, runs every booked action in a single pass over the record
// source and merges per-slot partial results.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/graph"
	"tidb-dataframe/internal/logging"
	"tidb-dataframe/internal/observability"
	"tidb-dataframe/internal/source"
)

// cancelCheckInterval is how many records a slot processes between context checks.
const cancelCheckInterval = 1024

// Options configures a Manager.
type Options struct {
	// Slots is the number of worker slots. Values below 1 mean 1.
	Slots   int
	Logger  *logging.Logger
	Metrics *observability.EngineMetrics
}

// FilterStat reports how many records a named filter accepted and rejected,
// summed over every pass so far.
type FilterStat struct {
	Name     string
	Accepted uint64
	Rejected uint64
}

// Pass returns the fraction of records that passed the filter.
func (s FilterStat) Pass() float64 {
	total := s.Accepted + s.Rejected
	if total == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(total)
}

// Manager is the loop coordinator. Graph construction and booking are not
// safe for concurrent use; Run fans out to one goroutine per slot.
type Manager struct {
	g       *graph.Graph
	src     source.Source
	entries int64
	slots   int
	logger  *logging.Logger
	metrics *observability.EngineMetrics
	tracer  trace.Tracer

	mu       sync.Mutex
	running  bool
	booked   []graph.NodeID
	deferred []*action.Deferred
	done     map[graph.NodeID]error
	passes   int
	lastRun  string
	filters  map[graph.NodeID]*FilterStat
}

// New creates a manager reading records from src.
func New(src source.Source, opts Options) *Manager {
	m := newManager(opts)
	m.src = src
	src.SetSlots(m.slots)
	return m
}

// NewEmpty creates a manager over n records without columns. Only internal
// and derived columns are available.
func NewEmpty(n int64, opts Options) *Manager {
	m := newManager(opts)
	m.entries = n
	return m
}

func newManager(opts Options) *Manager {
	slots := opts.Slots
	if slots < 1 {
		slots = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		g:       graph.New(),
		slots:   slots,
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("tidb-dataframe/loop"),
		done:    make(map[graph.NodeID]error),
		filters: make(map[graph.NodeID]*FilterStat),
	}
}

// Graph returns the computation graph.
func (m *Manager) Graph() *graph.Graph { return m.g }

// Slots returns the number of worker slots.
func (m *Manager) Slots() int { return m.slots }

// Source returns the record source, or nil.
func (m *Manager) Source() source.Source { return m.src }

// Defined reports whether name is a defined column.
func (m *Manager) Defined(name string) bool { return m.g.Defined(name) }

// SourceProvides reports whether the record source has a column called name.
func (m *Manager) SourceProvides(name string) bool {
	return m.src != nil && m.src.HasColumn(name)
}

// SourceTag returns the element type of a source column.
func (m *Manager) SourceTag(name string) (coltype.Tag, error) {
	if m.src == nil {
		return coltype.Unknown, ErrNoSource
	}
	typ, err := m.src.ColumnType(name)
	if err != nil {
		return coltype.Unknown, err
	}
	return coltype.Parse(typ)
}

// DefineSourceColumn makes a source column available to the graph. Repeated
// calls for the same name return the existing column.
func (m *Manager) DefineSourceColumn(name string, tag coltype.Tag) (graph.ColumnID, error) {
	if id, ok := m.g.Lookup(name); ok {
		if have := m.g.Column(id).Tag; have != tag {
			return 0, &source.TypeMismatchError{Column: name, Want: tag, Have: have}
		}
		return id, nil
	}
	if m.src == nil {
		return 0, fmt.Errorf("column %q: %w", name, ErrNoSource)
	}
	readers, err := m.src.Readers(name, tag)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", name, err)
	}
	return m.g.AddSourceColumn(name, tag, readers)
}

// CheckRange rejects range nodes when more than one slot is configured.
func (m *Manager) CheckRange() error {
	if m.slots > 1 {
		return ErrRangeMultiSlot
	}
	return nil
}

// Book registers an action node for the next pass.
func (m *Manager) Book(id graph.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.booked = append(m.booked, id)
}

// BookDeferred queues a dynamically typed booking. It is built at the start of
// the next pass.
func (m *Manager) BookDeferred(d *action.Deferred) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred = append(m.deferred, d)
}

// Status reports whether the action has been executed and the error recorded
// for it, if any.
func (m *Manager) Status(id graph.NodeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err, ok := m.done[id]
	return ok, err
}

// Pending returns the number of booked actions and deferred bookings waiting
// for a pass.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.booked) + len(m.deferred)
}

// Passes returns the number of passes run so far.
func (m *Manager) Passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

// LastRunID returns the run ID of the most recent pass, or "" before the
// first one.
func (m *Manager) LastRunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

// FilterStats returns statistics for named filters in graph order.
func (m *Manager) FilterStats() []FilterStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]graph.NodeID, 0, len(m.filters))
	for id := range m.filters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]FilterStat, len(ids))
	for i, id := range ids {
		out[i] = *m.filters[id]
	}
	return out
}

// Ensure runs a pass unless the action has already been executed, then
// returns the error recorded for it.
func (m *Manager) Ensure(ctx context.Context, id graph.NodeID) error {
	if done, err := m.Status(id); done {
		return err
	}
	runErr := m.Run(ctx)
	if done, err := m.Status(id); done {
		return err
	}
	if runErr != nil {
		return runErr
	}
	return fmt.Errorf("action %d was not booked", id)
}

// Run builds deferred bookings, then executes every booked action in one
// pass. A failure during the pass is recorded for every action booked in it.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrRunning
	}
	m.running = true
	deferred := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := m.logger.WithRunID(runID)
	ctx = logging.WithRunIDContext(logging.WithLogger(ctx, logger), runID)

	var buildErrs []error
	for _, d := range deferred {
		if err := d.Run(ctx, m); err != nil {
			logger.Warn("deferred action build failed", slog.String("error", err.Error()))
			buildErrs = append(buildErrs, err)
		}
	}

	m.mu.Lock()
	booked := m.booked
	m.booked = nil
	if len(booked) == 0 {
		m.mu.Unlock()
		return errors.Join(buildErrs...)
	}
	m.passes++
	pass := m.passes
	m.lastRun = runID
	m.mu.Unlock()

	info := observability.PassInfo{RunID: runID, Pass: pass, Slots: m.slots, Actions: len(booked)}
	finErrs, err := m.runPass(ctx, logger, booked, &info)

	m.mu.Lock()
	for _, id := range booked {
		if err != nil {
			m.done[id] = &PassError{RunID: runID, Pass: pass, Err: err}
		} else if _, ok := m.done[id]; !ok {
			m.done[id] = nil
		}
	}
	m.mu.Unlock()

	if err != nil {
		return &PassError{RunID: runID, Pass: pass, Err: err}
	}
	return errors.Join(append(buildErrs, finErrs...)...)
}

// runPass returns per-action finalize errors separately from errors that fail
// the whole pass.
func (m *Manager) runPass(ctx context.Context, logger *logging.Logger, booked []graph.NodeID, info *observability.PassInfo) (finErrs []error, err error) {
	ctx, span := m.tracer.Start(ctx, "dataframe.pass")
	defer span.End()
	start := time.Now()
	m.metrics.PassStarted(ctx)
	defer func() {
		span.SetAttributes(observability.PassSpanAttributes(*info)...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		m.metrics.RecordPass(ctx, *info, time.Since(start), err)
	}()

	ranges, err := m.ranges(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute entry ranges: %w", err)
	}
	info.Ranges = len(ranges)
	if logging.Enabled(ctx, logging.VerbosityInfo) {
		logger.Info("event loop pass started", observability.PassLogFields(ctx, *info)...)
	}

	slots := make([]*graph.Slot, m.slots)
	for i := range slots {
		slots[i] = m.g.NewSlot(i)
		for _, id := range booked {
			m.g.Node(id).Runner().InitSlot(i)
		}
	}

	var processed atomic.Int64
	group, gctx := errgroup.WithContext(ctx)
	for i := range slots {
		s := slots[i]
		group.Go(func() error {
			sctx, span := m.tracer.Start(gctx, "dataframe.slot",
				trace.WithAttributes(attribute.Int("dataframe.slot", s.Index())))
			defer span.End()
			if err := m.processSlot(sctx, s, ranges, booked, &processed); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			return nil
		})
	}
	err = group.Wait()
	info.Entries = processed.Load()
	if err != nil {
		return nil, err
	}

	for _, id := range booked {
		n := m.g.Node(id)
		if ferr := n.Runner().Finalize(); ferr != nil {
			ferr = fmt.Errorf("finalize %q: %w", n.Name, ferr)
			finErrs = append(finErrs, ferr)
			m.mu.Lock()
			m.done[id] = ferr
			m.mu.Unlock()
		}
	}
	m.collectFilterStats(ctx, slots)

	if logging.Enabled(ctx, logging.VerbosityInfo) {
		logger.Info("event loop pass finished",
			append(observability.PassLogFields(ctx, *info), slog.Duration("duration", time.Since(start)))...)
	}
	if len(finErrs) > 0 {
		span.SetAttributes(attribute.Int("dataframe.pass.finalize_errors", len(finErrs)))
	}
	return finErrs, nil
}

func (m *Manager) ranges(ctx context.Context) ([]source.Range, error) {
	if m.src == nil {
		return source.Split(m.entries, m.slots), nil
	}
	return m.src.EntryRanges(ctx)
}

// processSlot handles ranges slot, slot+N, slot+2N, ... in order.
func (m *Manager) processSlot(ctx context.Context, s *graph.Slot, ranges []source.Range, booked []graph.NodeID, processed *atomic.Int64) error {
	for r := s.Index(); r < len(ranges); r += m.slots {
		rng := ranges[r]
		if m.src != nil {
			if err := m.src.InitSlot(ctx, s.Index(), rng); err != nil {
				return fmt.Errorf("slot %d: init range [%d, %d): %w", s.Index(), rng.Begin, rng.End, err)
			}
		}
		for entry := rng.Begin; entry < rng.End; entry++ {
			if (entry-rng.Begin)%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for _, id := range booked {
				if err := s.Run(id, entry); err != nil {
					return fmt.Errorf("slot %d entry %d: %w", s.Index(), entry, err)
				}
			}
		}
		processed.Add(rng.Len())
		if m.src != nil {
			if err := m.src.FinalizeSlot(s.Index()); err != nil {
				return fmt.Errorf("slot %d: finalize range: %w", s.Index(), err)
			}
		}
	}
	return nil
}

func (m *Manager) collectFilterStats(ctx context.Context, slots []*graph.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := graph.NodeID(0); int(id) < m.g.NumNodes(); id++ {
		n := m.g.Node(id)
		if n.Kind != graph.KindFilter || n.Name == "" {
			continue
		}
		var acc, rej uint64
		for _, s := range slots {
			a, r := s.FilterCounts(id)
			acc += a
			rej += r
		}
		st, ok := m.filters[id]
		if !ok {
			st = &FilterStat{Name: n.Name}
			m.filters[id] = st
		}
		st.Accepted += acc
		st.Rejected += rej
		m.metrics.RecordFilter(ctx, n.Name, acc, rej)
	}
}
