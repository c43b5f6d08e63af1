package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"tidb-dataframe/internal/pipeline"
)

// Run executes the pipeline once and publishes its report to the store. A
// report with per-action errors is still published, and returned alongside
// the joined error.
func (a *App) Run(ctx context.Context) (*pipeline.Report, error) {
	a.stateMu.Lock()
	p := a.pipeline
	initialized := a.initialized
	a.stateMu.Unlock()
	if !initialized || p == nil {
		return nil, fmt.Errorf("app is not initialized")
	}

	report, err := p.Run(ctx)
	if report != nil {
		a.store.Set(report)
	}
	if err != nil {
		return report, err
	}
	a.logger.Info("report published", slog.String("run_id", report.RunID))
	return report, nil
}

// Start launches the HTTP server goroutine. It requires Init to have completed
// with the server enabled.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.srv == nil {
		return nil, fmt.Errorf("server is disabled")
	}
	if a.started {
		return a.serverErrors, nil
	}

	a.serverErrors = startServer(a.cfg, a.logger, a.srv)
	a.started = true
	return a.serverErrors, nil
}

// WaitForStop waits for either an OS signal or a server error.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (reason string, err error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}

	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			return "server_error", fmt.Errorf("server stopped unexpectedly")
		}
		return "server_error", fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		return "signal", nil
	}
}
