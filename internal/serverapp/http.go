package serverapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/dbexec"
	"tidb-dataframe/internal/logging"
	"tidb-dataframe/internal/middleware"
	"tidb-dataframe/internal/observability"
	"tidb-dataframe/internal/resultapi"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func buildRouter(cfg *config.Config, logger *logging.Logger, db *dbexec.DB, store *resultapi.Store, requestMetrics *observability.RequestMetrics, meterProvider *observability.MeterProvider) (*http.ServeMux, error) {
	graphqlHandler, err := resultapi.NewHandler(store, nil, cfg.Server.GraphiQLEnabled)
	if err != nil {
		return nil, err
	}
	graphqlHandler = middleware.GraphQLTracingMiddleware()(graphqlHandler)
	graphqlHandler = middleware.GraphQLMetricsMiddleware(requestMetrics)(graphqlHandler)

	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/graphql", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	var pinger dbexec.Pinger
	if db != nil {
		pinger = db
	}
	mux.HandleFunc("/health", healthHandler(pinger, store, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux, nil
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger, "/health", "/metrics")(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	handler = middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:        cfg.Server.CORSEnabled,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		AllowedMethods: cfg.Server.CORSAllowedMethods,
		AllowedHeaders: cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:  []string{middleware.RequestIDHeader},
		MaxAge:         cfg.Server.CORSMaxAge,
	})(handler)

	handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Enabled: cfg.Server.RateLimitEnabled,
		RPS:     cfg.Server.RateLimitRPS,
		Burst:   cfg.Server.RateLimitBurst,
	})(handler)

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", "/graphql", "/health", "/metrics":
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", srv.Addr),
			slog.String("graphql_endpoint", "/graphql"),
			slog.String("health_endpoint", "/health"),
			slog.Bool("graphiql", cfg.Server.GraphiQLEnabled),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Report   string `json:"report"`
}

// healthHandler reports whether the database answers, when there is one, and
// whether a run report is available. A pending report is still healthy.
func healthHandler(db dbexec.Pinger, store *resultapi.Store, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		status := healthStatus{Status: "healthy", Report: "pending"}
		if report, _ := store.Latest(); report != nil {
			status.Report = "ready"
		}

		code := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			status.Database = "ok"
			if err := db.PingContext(ctx); err != nil {
				reqLogger.Error("health check failed",
					slog.String("error", err.Error()),
					slog.String("check", "database"),
				)
				status.Status = "unhealthy"
				status.Database = "failed"
				code = http.StatusServiceUnavailable
			}
		}

		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
