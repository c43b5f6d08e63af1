package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/dbexec"
	"tidb-dataframe/internal/logging"
)

// connectDB opens the pool for a table source and waits until TiDB answers.
func connectDB(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dbexec.DB, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	db, err := dbexec.Open(dbexec.OpenOptions{
		DSN:          cfg.Database.DSN(),
		Metrics:      cfg.Observability.MetricsEnabled,
		Tracing:      cfg.Observability.TracingEnabled,
		SQLCommenter: cfg.Observability.SQLCommenterEnabled,
		MaxOpen:      cfg.Database.Pool.MaxOpen,
		MaxIdle:      cfg.Database.Pool.MaxIdle,
		MaxLifetime:  cfg.Database.Pool.MaxLifetime,
		Logger:       logger.Logger,
	})
	if err != nil {
		return nil, err
	}

	if err := dbexec.WaitReady(ctx, db, cfg.Database.ConnectionTimeout, cfg.Database.ConnectionRetryInterval, logger.Logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("connected to database",
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return db, nil
}
