package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/dataframe"
	"tidb-dataframe/internal/dbexec"
	"tidb-dataframe/internal/pipeline"
)

// Init initializes all runtime resources and builds the pipeline. It is
// idempotent. On failure everything acquired so far is released.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, engineMetrics, requestMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	var (
		db       *dbexec.DB
		executor dbexec.QueryExecutor
	)
	if a.cfg.Pipeline.Source.Kind == config.SourceTable {
		a.logger.Info("connecting to TiDB",
			slog.String("host", a.cfg.Database.Host),
			slog.Int("port", a.cfg.Database.Port),
			slog.String("database_effective", a.effectiveDatabase),
		)
		db, err = connectDB(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			return db.Close()
		})
		executor = dbexec.NewStandardExecutor(db.DB)
	}

	frame, release, err := pipeline.OpenFrame(ctx, executor, a.effectiveDatabase, a.cfg.Pipeline, a.logger.Logger,
		dataframe.WithLogger(a.logger),
		dataframe.WithMetrics(engineMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to open %s source: %w", a.cfg.Pipeline.Source.Kind, err)
	}
	cleanup.push("record source", func(_ context.Context) error {
		release()
		return nil
	})

	p, err := pipeline.Build(frame, a.cfg.Pipeline, a.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	for _, w := range p.Warnings() {
		a.logger.Warn("pipeline warning",
			slog.String("field", w.Field),
			slog.String("message", w.Message),
		)
	}

	var (
		srv        *http.Server
		handler    http.Handler
		serverAddr string
	)
	if a.cfg.Server.Enabled {
		mux, err := buildRouter(a.cfg, a.logger, db, a.store, requestMetrics, meterProvider)
		if err != nil {
			return fmt.Errorf("failed to initialize results endpoint: %w", err)
		}
		handler = wrapHTTPHandler(a.cfg, a.logger, mux)
		serverAddr = fmt.Sprintf(":%d", a.cfg.Server.Port)
		srv = buildServer(a.cfg, handler, serverAddr)
		cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.engineMetrics = engineMetrics
	a.requestMetrics = requestMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.pipeline = p
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
