package serverapp

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/logging"
	"tidb-dataframe/internal/resultapi"
)

func testLogger() *logging.Logger {
	return logging.Discard()
}

func emptySourceConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			Source:    config.SourceConfig{Kind: config.SourceEmpty, Entries: 100},
			Slots:     3,
			Verbosity: "quiet",
			Actions:   []config.ActionConfig{{Name: "entries", Kind: "Count"}},
		},
		Server: config.ServerConfig{HealthCheckTimeout: time.Second},
	}
}

func TestWaitForStop_SignalWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)

	stop <- syscall.SIGTERM

	reason, err := app.WaitForStop(stop, serverErrors)
	require.NoError(t, err)
	assert.Equal(t, "signal", reason)
}

func TestWaitForStop_ServerErrorWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)
	serverErrors <- errors.New("boom")

	reason, err := app.WaitForStop(stop, serverErrors)
	require.Error(t, err)
	assert.Equal(t, "server_error", reason)
}

func TestWaitForStop_NoChannels(t *testing.T) {
	app := &App{logger: testLogger()}
	_, err := app.WaitForStop(nil, nil)
	require.Error(t, err)
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls int32
	app.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCleanupStack_ReverseOrder(t *testing.T) {
	var order []string
	var s cleanupStack
	for _, name := range []string{"first", "second", "third"} {
		s.push(name, func(context.Context) error {
			order = append(order, name)
			return errors.New("ignored")
		})
	}
	err := s.run(context.Background(), testLogger())
	assert.Equal(t, []string{"third", "second", "first"}, order)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first: ignored")
	assert.Contains(t, err.Error(), "third: ignored")
}

func TestShutdown_ReportsCleanupErrors(t *testing.T) {
	app := &App{logger: testLogger()}
	app.cleanup.push("database", func(context.Context) error { return errors.New("close failed") })

	err := app.Shutdown(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, app.Shutdown(context.Background()))
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	_, err := app.Start()
	require.Error(t, err)
}

func TestRun_BeforeInit_Fails(t *testing.T) {
	app, err := New(emptySourceConfig(), testLogger())
	require.NoError(t, err)
	_, err = app.Run(context.Background())
	require.Error(t, err)
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := &App{
		cfg:         &config.Config{},
		logger:      testLogger(),
		serverAddr:  "127.0.0.1:0",
		srv:         &http.Server{Addr: "127.0.0.1:0", Handler: http.NewServeMux()},
		store:       &resultapi.Store{},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})

	_, err := app.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
}

func TestInitAndRun_EmptySource(t *testing.T) {
	app, err := New(emptySourceConfig(), testLogger())
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	assert.False(t, app.ServerEnabled())
	_, err = app.Start()
	require.Error(t, err)

	report, err := app.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Slots)
	entries, ok := report.Action("entries")
	require.True(t, ok)
	assert.Equal(t, uint64(100), entries.Value)

	latest, _ := app.Store().Latest()
	assert.Same(t, report, latest)
}

func TestInit_ServerEnabled(t *testing.T) {
	cfg := emptySourceConfig()
	cfg.Server.Enabled = true
	cfg.Server.Port = 0

	app, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	assert.True(t, app.ServerEnabled())
	assert.NotNil(t, app.handler)
}

func TestInit_InvalidPipeline(t *testing.T) {
	cfg := emptySourceConfig()
	cfg.Pipeline.Actions = []config.ActionConfig{{Name: "bad", Kind: "Histo9D"}}

	app, err := New(cfg, testLogger())
	require.NoError(t, err)

	err = app.Init(context.Background())
	var result *config.ValidationResult
	require.ErrorAs(t, err, &result)
	assert.Equal(t, "pipeline.actions[0].kind", result.Errors[0].Field)
	assert.Nil(t, app.Pipeline())
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	appCfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "root",
			Password: "invalid",
			Database: "test",
			TLS:      config.DatabaseTLSConfig{Mode: "off"},
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Second,
			},
			ConnectionTimeout:       0,
			ConnectionRetryInterval: 10 * time.Millisecond,
		},
		Pipeline: config.PipelineConfig{
			Source:  config.SourceConfig{Kind: config.SourceTable, Table: "events"},
			Slots:   1,
			Actions: []config.ActionConfig{{Name: "entries", Kind: "Count"}},
		},
		Observability: config.ObservabilityConfig{
			ServiceName: "tidb-dataframe",
			Logging:     config.LoggingConfig{Level: "info", Format: "text"},
		},
	}

	app, err := New(appCfg, testLogger())
	require.NoError(t, err)

	require.Error(t, app.Init(context.Background()))

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	assert.False(t, initialized)
}
