// Package resultapi serves the latest pipeline report over GraphQL.
package resultapi

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/graphql-go/graphql"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/hist"
	"tidb-dataframe/internal/pipeline"
)

// Store holds the most recent report. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	report      *pipeline.Report
	completedAt time.Time
}

// Set replaces the current report.
func (s *Store) Set(r *pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = r
	s.completedAt = time.Now().UTC()
}

// Latest returns the current report, or nil before the first run.
func (s *Store) Latest() (*pipeline.Report, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report, s.completedAt
}

// resolve adapts an accessor on a typed source object to a field resolver.
func resolve[S any](get func(S) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		s, ok := p.Source.(S)
		if !ok {
			return nil, fmt.Errorf("field %s: unexpected source %T", p.Info.FieldName, p.Source)
		}
		return get(s), nil
	}
}

func nonNull(t graphql.Output) graphql.Output { return graphql.NewNonNull(t) }

func listOf(t graphql.Output) graphql.Output { return graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t))) }

// NewSchema builds the results schema. Every query reads the report held by
// store at the time of the request.
func NewSchema(store *Store, registry *action.Registry) (graphql.Schema, error) {
	if registry == nil {
		registry = action.DefaultRegistry()
	}

	axisType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Axis",
		Fields: graphql.Fields{
			"bins": &graphql.Field{Type: nonNull(graphql.Int), Resolve: resolve(func(a hist.Axis) any { return a.Bins })},
			"min":  &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(a hist.Axis) any { return a.Min })},
			"max":  &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(a hist.Axis) any { return a.Max })},
		},
	})

	cellType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Cell",
		Description: "One in-range histogram cell. Bins are 1-based per axis.",
		Fields: graphql.Fields{
			"bins":    &graphql.Field{Type: listOf(graphql.Int), Resolve: resolve(func(c pipeline.CellReport) any { return c.Bins })},
			"low":     &graphql.Field{Type: listOf(graphql.Float), Resolve: resolve(func(c pipeline.CellReport) any { return c.Low })},
			"high":    &graphql.Field{Type: listOf(graphql.Float), Resolve: resolve(func(c pipeline.CellReport) any { return c.High })},
			"content": &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(c pipeline.CellReport) any { return c.Content })},
			"error":   &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(c pipeline.CellReport) any { return c.Error })},
		},
	})

	histogramType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Histogram",
		Fields: graphql.Fields{
			"name":     &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(h *pipeline.HistogramReport) any { return h.Name })},
			"title":    &graphql.Field{Type: graphql.String, Resolve: resolve(func(h *pipeline.HistogramReport) any { return h.Title })},
			"entries":  &graphql.Field{Type: nonNull(bigIntScalar), Resolve: resolve(func(h *pipeline.HistogramReport) any { return h.Entries })},
			"integral": &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(h *pipeline.HistogramReport) any { return h.Integral })},
			"mean":     &graphql.Field{Type: listOf(graphql.Float), Resolve: resolve(func(h *pipeline.HistogramReport) any { return h.Mean })},
			"stdDev":   &graphql.Field{Type: listOf(graphql.Float), Resolve: resolve(func(h *pipeline.HistogramReport) any { return h.StdDev })},
			"axes":     &graphql.Field{Type: listOf(axisType), Resolve: resolve(func(h *pipeline.HistogramReport) any { return h.Axes })},
			"cells": &graphql.Field{
				Type: listOf(cellType),
				Args: graphql.FieldConfigArgument{
					"nonEmpty": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					h, ok := p.Source.(*pipeline.HistogramReport)
					if !ok {
						return nil, fmt.Errorf("cells: unexpected source %T", p.Source)
					}
					if nonEmpty, _ := p.Args["nonEmpty"].(bool); !nonEmpty {
						return h.Cells, nil
					}
					out := make([]pipeline.CellReport, 0, len(h.Cells))
					for _, c := range h.Cells {
						if c.Content != 0 {
							out = append(out, c)
						}
					}
					return out, nil
				},
			},
		},
	})

	profileCellType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ProfileCell",
		Fields: graphql.Fields{
			"bins":    &graphql.Field{Type: listOf(graphql.Int), Resolve: resolve(func(c pipeline.ProfileCellReport) any { return c.Bins })},
			"low":     &graphql.Field{Type: listOf(graphql.Float), Resolve: resolve(func(c pipeline.ProfileCellReport) any { return c.Low })},
			"high":    &graphql.Field{Type: listOf(graphql.Float), Resolve: resolve(func(c pipeline.ProfileCellReport) any { return c.High })},
			"mean":    &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(c pipeline.ProfileCellReport) any { return c.Mean })},
			"spread":  &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(c pipeline.ProfileCellReport) any { return c.Spread })},
			"entries": &graphql.Field{Type: nonNull(bigIntScalar), Resolve: resolve(func(c pipeline.ProfileCellReport) any { return c.Entries })},
		},
	})

	profileType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Profile",
		Fields: graphql.Fields{
			"name":    &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(p *pipeline.ProfileReport) any { return p.Name })},
			"title":   &graphql.Field{Type: graphql.String, Resolve: resolve(func(p *pipeline.ProfileReport) any { return p.Title })},
			"entries": &graphql.Field{Type: nonNull(bigIntScalar), Resolve: resolve(func(p *pipeline.ProfileReport) any { return p.Entries })},
			"axes":    &graphql.Field{Type: listOf(axisType), Resolve: resolve(func(p *pipeline.ProfileReport) any { return p.Axes })},
			"cells":   &graphql.Field{Type: listOf(profileCellType), Resolve: resolve(func(p *pipeline.ProfileReport) any { return p.Cells })},
		},
	})

	actionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Action",
		Fields: graphql.Fields{
			"name":      &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(a pipeline.ActionReport) any { return a.Name })},
			"kind":      &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(a pipeline.ActionReport) any { return a.Kind })},
			"signature": &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(a pipeline.ActionReport) any { return a.Signature })},
			"columns":   &graphql.Field{Type: listOf(graphql.String), Resolve: resolve(func(a pipeline.ActionReport) any { return nonNilStrings(a.Columns) })},
			"value":     &graphql.Field{Type: jsonScalar, Resolve: resolve(func(a pipeline.ActionReport) any { return a.Value })},
			"histogram": &graphql.Field{Type: histogramType, Resolve: resolve(func(a pipeline.ActionReport) any {
				if a.Histogram == nil {
					return nil
				}
				return a.Histogram
			})},
			"profile": &graphql.Field{Type: profileType, Resolve: resolve(func(a pipeline.ActionReport) any {
				if a.Profile == nil {
					return nil
				}
				return a.Profile
			})},
			"error": &graphql.Field{Type: graphql.String, Resolve: resolve(func(a pipeline.ActionReport) any {
				if a.Error == "" {
					return nil
				}
				return a.Error
			})},
		},
	})

	filterType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Filter",
		Description: "Counters of a named filter, summed over every pass.",
		Fields: graphql.Fields{
			"name":     &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(f pipeline.FilterReport) any { return f.Name })},
			"accepted": &graphql.Field{Type: nonNull(bigIntScalar), Resolve: resolve(func(f pipeline.FilterReport) any { return f.Accepted })},
			"rejected": &graphql.Field{Type: nonNull(bigIntScalar), Resolve: resolve(func(f pipeline.FilterReport) any { return f.Rejected })},
			"pass":     &graphql.Field{Type: nonNull(graphql.Float), Resolve: resolve(func(f pipeline.FilterReport) any { return f.Pass })},
		},
	})

	snapshotType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Snapshot",
		Fields: graphql.Fields{
			"path":    &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(s *pipeline.SnapshotReport) any { return s.Path })},
			"rows":    &graphql.Field{Type: nonNull(bigIntScalar), Resolve: resolve(func(s *pipeline.SnapshotReport) any { return s.Rows })},
			"columns": &graphql.Field{Type: listOf(graphql.String), Resolve: resolve(func(s *pipeline.SnapshotReport) any { return nonNilStrings(s.Columns) })},
		},
	})

	reportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Report",
		Fields: graphql.Fields{
			"runId":   &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(r *pipeline.Report) any { return r.RunID })},
			"passes":  &graphql.Field{Type: nonNull(graphql.Int), Resolve: resolve(func(r *pipeline.Report) any { return r.Passes })},
			"slots":   &graphql.Field{Type: nonNull(graphql.Int), Resolve: resolve(func(r *pipeline.Report) any { return r.Slots })},
			"elapsed": &graphql.Field{Type: nonNull(graphql.String), Resolve: resolve(func(r *pipeline.Report) any { return r.Elapsed })},
			"filters": &graphql.Field{Type: listOf(filterType), Resolve: resolve(func(r *pipeline.Report) any { return r.Filters })},
			"actions": &graphql.Field{
				Type: listOf(actionType),
				Args: graphql.FieldConfigArgument{
					"kind": &graphql.ArgumentConfig{Type: graphql.String, Description: "Only actions of this kind, case-insensitive."},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					r, ok := p.Source.(*pipeline.Report)
					if !ok {
						return nil, fmt.Errorf("actions: unexpected source %T", p.Source)
					}
					kind, _ := p.Args["kind"].(string)
					if kind == "" {
						return r.Actions, nil
					}
					out := make([]pipeline.ActionReport, 0, len(r.Actions))
					for _, a := range r.Actions {
						if strings.EqualFold(a.Kind, kind) {
							out = append(out, a)
						}
					}
					return out, nil
				},
			},
			"snapshot": &graphql.Field{Type: snapshotType, Resolve: resolve(func(r *pipeline.Report) any {
				if r.Snapshot == nil {
					return nil
				}
				return r.Snapshot
			})},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"report": &graphql.Field{
				Type:        reportType,
				Description: "The latest report, null until the first run completes.",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					r, _ := store.Latest()
					if r == nil {
						return nil, nil
					}
					return r, nil
				},
			},
			"completedAt": &graphql.Field{
				Type: graphql.DateTime,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					r, at := store.Latest()
					if r == nil {
						return nil, nil
					}
					return at, nil
				},
			},
			"action": &graphql.Field{
				Type: actionType,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					r, _ := store.Latest()
					if r == nil {
						return nil, nil
					}
					name, _ := p.Args["name"].(string)
					a, ok := r.Action(name)
					if !ok {
						return nil, fmt.Errorf("no action named %q", name)
					}
					return a, nil
				},
			},
			"signatures": &graphql.Field{
				Type:        listOf(graphql.String),
				Description: "Action/type combinations available to pipeline actions.",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return registry.Signatures(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
