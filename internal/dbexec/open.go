package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// maxRetryInterval caps the exponential backoff of WaitReady.
const maxRetryInterval = 30 * time.Second

// OpenOptions configures Open.
type OpenOptions struct {
	DSN string

	Metrics      bool
	Tracing      bool
	SQLCommenter bool

	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration

	Logger *slog.Logger
}

// DB is an open connection pool plus the metric registration tied to it.
type DB struct {
	*sql.DB
	statsReg interface{ Unregister() error }
	logger   *slog.Logger
}

// Open opens a MySQL pool. With metrics or tracing enabled the driver is
// wrapped by otelsql. No connection is made until first use.
func Open(opts OpenOptions) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db       *sql.DB
		statsReg interface{ Unregister() error }
		err      error
	)
	if opts.Metrics || opts.Tracing {
		otelOpts := []otelsql.Option{otelsql.WithAttributes(semconv.DBSystemMySQL)}
		if opts.Tracing {
			otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		}
		switch {
		case opts.SQLCommenter && opts.Tracing:
			otelOpts = append(otelOpts, otelsql.WithSQLCommenter(true))
		case opts.SQLCommenter:
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		db, err = otelsql.Open("mysql", opts.DSN, otelOpts...)
		if err != nil {
			return nil, err
		}
		if opts.Metrics {
			statsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}
		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", opts.Metrics),
			slog.Bool("tracing", opts.Tracing),
			slog.Bool("sqlcommenter", opts.SQLCommenter && opts.Tracing),
		)
	} else {
		db, err = sql.Open("mysql", opts.DSN)
		if err != nil {
			return nil, err
		}
	}

	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxLifetime(opts.MaxLifetime)
	return &DB{DB: db, statsReg: statsReg, logger: logger}, nil
}

// Close unregisters the pool metrics and closes the pool.
func (d *DB) Close() error {
	if d.statsReg != nil {
		if err := d.statsReg.Unregister(); err != nil {
			d.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
		}
		d.statsReg = nil
	}
	return d.DB.Close()
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WaitReady pings until the database answers. A zero timeout pings once.
// Retries back off exponentially from interval.
func WaitReady(ctx context.Context, db Pinger, timeout, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, maxRetryInterval)
	}
}
