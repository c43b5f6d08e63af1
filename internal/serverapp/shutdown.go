package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tidb-dataframe/internal/logging"
)

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack struct {
	names []string
	fns   []func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

// run calls every cleanup, newest first, even when earlier ones fail. The
// failures are logged and returned joined.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s.fns) - 1; i >= 0; i-- {
		name := s.names[i]
		if logger != nil {
			logger.Debug("releasing " + name)
		}
		if err := s.fns[i](ctx); err != nil {
			if logger != nil {
				logger.Warn("cleanup error", slog.String("component", name), slog.String("error", err.Error()))
			}
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown releases every acquired resource. Only the first call does work;
// later calls return its result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})
	return a.shutdownErr
}
