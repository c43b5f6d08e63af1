package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"tidb-dataframe/internal/observability"
)

// GraphQLMetricsMiddleware records duration and outcome of result queries,
// labelled by operation type. GraphiQL page loads are not counted.
func GraphQLMetricsMiddleware(metrics *observability.RequestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.URL.Query().Get("query") == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)
			start := time.Now()

			operationType := "unknown"
			query, operationName := extractGraphQLRequest(r)
			if metadata, err := extractQueryMetadata(query, operationName); err == nil && metadata != nil && strings.TrimSpace(metadata.operationType) != "" {
				operationType = metadata.operationType
			}

			wrapped := newStatusRecorder(w, true)
			next.ServeHTTP(wrapped, r)

			hasErrors := wrapped.statusCode >= 400 || responseHasGraphQLErrors(wrapped.body.Bytes())
			metrics.RecordRequest(ctx, time.Since(start), hasErrors, operationType)
		})
	}
}

// responseHasGraphQLErrors reports whether body is a GraphQL response with a
// non-empty errors list. graphql-go answers most failures with HTTP 200.
func responseHasGraphQLErrors(body []byte) bool {
	var payload struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return len(payload.Errors) > 0
}
