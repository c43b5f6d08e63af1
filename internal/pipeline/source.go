package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"tidb-dataframe/internal/arrowsrc"
	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/dataframe"
	"tidb-dataframe/internal/dbexec"
	"tidb-dataframe/internal/tidbsource"
)

// OpenFrame opens the record source described by cfg and returns the root
// frame over it. db and database are only used by table sources. release
// frees source memory once the frame is no longer used.
func OpenFrame(ctx context.Context, db dbexec.QueryExecutor, database string, cfg config.PipelineConfig, logger *slog.Logger, opts ...dataframe.Option) (f *dataframe.Frame, release func(), err error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]dataframe.Option{
		dataframe.WithSlots(cfg.Slots),
		dataframe.WithDefaultColumns(cfg.DefaultColumns...),
	}, opts...)
	release = func() {}

	sc := cfg.Source
	switch sc.Kind {
	case config.SourceTable:
		if db == nil {
			return nil, nil, fmt.Errorf("table source %q needs a database connection", sc.Table)
		}
		src, err := tidbsource.New(ctx, db, database, sc.Table,
			tidbsource.WithOrderBy(sc.OrderBy...),
			tidbsource.WithPartitions(sc.Partitions),
			tidbsource.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened table source",
			slog.String("database", database),
			slog.String("table", sc.Table),
			slog.Int("columns", len(src.ColumnNames())),
		)
		return dataframe.New(src, opts...), release, nil

	case config.SourceArrow:
		rec, err := arrowsrc.ReadFile(sc.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened arrow source",
			slog.String("path", sc.Path),
			slog.Int64("rows", rec.NumRows()),
		)
		src := arrowsrc.New(rec, arrowsrc.WithPartitions(sc.Partitions))
		return dataframe.New(src, opts...), rec.Release, nil

	case config.SourceEmpty:
		return dataframe.NewEmpty(sc.Entries, opts...), release, nil

	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}
