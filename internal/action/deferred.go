package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/graph"
	"tidb-dataframe/internal/logging"
)

// Deferred is a dynamically typed booking whose build waits for the start of
// the next event loop pass. Run is executed by the coordinator goroutine only.
type Deferred struct {
	Kind    Kind
	Tags    []coltype.Tag
	Entry   Entry
	Request Request
	Bridge  *Bridge
}

// NewDeferred resolves the specialization for kind and tags. Unknown
// combinations fail here, before anything is queued.
func NewDeferred(r *Registry, kind Kind, tags []coltype.Tag, req Request) (*Deferred, error) {
	if len(tags) != len(req.Columns) {
		return nil, fmt.Errorf("%s: %d type tags for %d columns", kind, len(tags), len(req.Columns))
	}
	e, err := r.Lookup(kind, tags)
	if err != nil {
		return nil, err
	}
	return &Deferred{Kind: kind, Tags: tags, Entry: e, Request: req, Bridge: NewBridge()}, nil
}

// Signature describes the specialization that will be built.
func (d *Deferred) Signature() string {
	return Signature(d.Kind, d.Tags...)
}

// Run defines any source columns the booking refers to, builds and books the
// helper, then completes the bridge with the result.
func (d *Deferred) Run(ctx context.Context, b Booker) error {
	if _, err := d.Bridge.Node(); !errors.Is(err, ErrBridgePending) {
		return fmt.Errorf("%s: %w", d.Signature(), ErrBridgeCompleted)
	}
	if logging.Enabled(ctx, logging.VerbosityDebug) {
		logging.FromContext(ctx).Debug("building deferred action",
			slog.String("signature", d.Signature()),
			slog.Any("columns", d.Request.Columns),
		)
	}
	id, err := d.build(b)
	if cerr := d.Bridge.Complete(id, err); cerr != nil {
		return fmt.Errorf("%s: %w", d.Signature(), cerr)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", d.Signature(), err)
	}
	return nil
}

func (d *Deferred) build(b Booker) (graph.NodeID, error) {
	g := b.Graph()
	for i, name := range d.Request.Columns {
		if g.Defined(name) {
			continue
		}
		if _, err := b.DefineSourceColumn(name, d.Tags[i]); err != nil {
			return graph.NoNode, err
		}
	}
	return d.Entry.Build(b, d.Request)
}
