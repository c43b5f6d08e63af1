package middleware

import (
	"log/slog"
	"net/http"

	"tidb-dataframe/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "tidb-dataframe/graphql"

// GraphQLTracingMiddleware wraps query execution in a graphql.execute span and
// adds the trace and span IDs to the request logger. Requests without a query
// pass through untraced.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query, operationName := extractGraphQLRequest(r)
			if query == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := otel.Tracer(tracerName).Start(r.Context(), "graphql.execute")
			defer span.End()

			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				reqLogger := logging.FromContext(ctx).WithFields(
					slog.String("trace_id", spanCtx.TraceID().String()),
					slog.String("span_id", spanCtx.SpanID().String()),
				)
				ctx = logging.WithLogger(ctx, reqLogger)
			}

			if span.IsRecording() {
				metadata, err := extractQueryMetadata(query, operationName)
				switch {
				case err != nil:
					span.RecordError(err)
					span.SetStatus(codes.Error, "query parse failed")
				case metadata != nil:
					span.SetAttributes(metadata.attributes()...)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
