// Package serverapp wires configuration, telemetry, the record source and the
// pipeline into one lifecycle, and optionally serves run reports over HTTP.
package serverapp

import (
	"fmt"
	"net/http"
	"sync"

	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/dbexec"
	"tidb-dataframe/internal/logging"
	"tidb-dataframe/internal/observability"
	"tidb-dataframe/internal/pipeline"
	"tidb-dataframe/internal/resultapi"
)

// App owns runtime resources for one dataframe process.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string

	meterProvider  *observability.MeterProvider
	engineMetrics  *observability.EngineMetrics
	requestMetrics *observability.RequestMetrics
	tracerProvider *observability.TracerProvider

	db       *dbexec.DB
	pipeline *pipeline.Pipeline
	store    *resultapi.Store

	handler    http.Handler
	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	app := &App{cfg: cfg, logger: logger, store: &resultapi.Store{}}
	if cfg.Pipeline.Source.Kind == config.SourceTable {
		var err error
		app.effectiveDatabase, err = cfg.Database.EffectiveDatabaseName()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
		}
	}
	return app, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Pipeline returns the built pipeline, or nil before Init.
func (a *App) Pipeline() *pipeline.Pipeline {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.pipeline
}

// Store returns the report store served by the results endpoint.
func (a *App) Store() *resultapi.Store { return a.store }

// ServerEnabled reports whether Init built an HTTP server.
func (a *App) ServerEnabled() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.srv != nil
}
