package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tidb-dataframe/internal/logging"

	"github.com/google/go-cmp/cmp"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestExtractQueryMetadata(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		operationName string
		want          *queryMetadata
		wantErr       bool
	}{
		{
			name:  "flat report query",
			query: `query { report { runId passes } }`,
			want:  &queryMetadata{operationType: "query", fieldCount: 3, selectionDepth: 2},
		},
		{
			name: "named query with variables",
			query: `query Hist($name: String!, $filled: Boolean) {
				action(name: $name) {
					histogram {
						cells(nonEmpty: $filled) { bins content }
					}
				}
			}`,
			operationName: "Hist",
			want:          &queryMetadata{operationType: "query", operationName: "Hist", fieldCount: 5, selectionDepth: 4, variableCount: 2},
		},
		{
			name: "selects the named operation",
			query: `
				query A { signatures }
				query B { report { actions { name kind } } }
			`,
			operationName: "B",
			want:          &queryMetadata{operationType: "query", operationName: "B", fieldCount: 4, selectionDepth: 3},
		},
		{
			name:          "named operation missing",
			query:         `query A { signatures }`,
			operationName: "B",
			want:          nil,
		},
		{
			name: "inline fragment",
			query: `{
				report {
					... on Report { runId slots }
				}
			}`,
			want: &queryMetadata{operationType: "query", fieldCount: 3, selectionDepth: 2},
		},
		{
			name: "named fragment",
			query: `
				fragment Counts on Filter { accepted rejected }
				query { report { filters { name ...Counts } } }
			`,
			want: &queryMetadata{operationType: "query", fieldCount: 5, selectionDepth: 3},
		},
		{
			name: "cyclic fragments",
			query: `
				fragment A on Report { runId ...B }
				fragment B on Report { passes ...A }
				query { report { ...A } }
			`,
			want: &queryMetadata{operationType: "query", fieldCount: 3, selectionDepth: 2},
		},
		{
			name:  "empty query",
			query: "   ",
			want:  nil,
		},
		{
			name:    "syntax error",
			query:   `query { report {`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractQueryMetadata(tt.query, tt.operationName)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(queryMetadata{})); diff != "" {
				t.Errorf("metadata mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCountFieldsAndDepthNilSelectionSet(t *testing.T) {
	fields, depth := countFieldsAndDepth(nil, map[string]*ast.FragmentDefinition{}, 1, map[string]bool{}, map[string]bool{})
	assert.Equal(t, 0, fields)
	assert.Equal(t, 0, depth)
}

func TestExtractGraphQLRequest(t *testing.T) {
	post := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ signatures }","operationName":"Sigs"}`))
	query, name := extractGraphQLRequest(post)
	assert.Equal(t, "{ signatures }", query)
	assert.Equal(t, "Sigs", name)

	// The body stays readable for the handler.
	query, _ = extractGraphQLRequest(post)
	assert.Equal(t, "{ signatures }", query)

	raw := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{ report { runId } }`))
	raw.Header.Set("Content-Type", "application/graphql")
	query, name = extractGraphQLRequest(raw)
	assert.Equal(t, "{ report { runId } }", query)
	assert.Empty(t, name)

	query, _ = extractGraphQLRequest(httptest.NewRequest(http.MethodDelete, "/graphql", nil))
	assert.Empty(t, query)
}

func setupTracing(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	old := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(old)
	})
	return recorder
}

func TestGraphQLTracingMiddleware(t *testing.T) {
	recorder := setupTracing(t)

	var traced bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traced = logging.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	})
	handler := GraphQLTracingMiddleware()(next)

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"query Latest($k: String) { report { actions(kind: $k) { name } } }","operationName":"Latest"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, traced)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "graphql.execute", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "query", attrs["graphql.operation.type"].AsString())
	assert.Equal(t, "Latest", attrs["graphql.operation.name"].AsString())
	assert.Equal(t, int64(3), attrs["graphql.document.field_count"].AsInt64())
	assert.Equal(t, int64(3), attrs["graphql.document.depth"].AsInt64())
	assert.Equal(t, int64(1), attrs["graphql.document.variable_count"].AsInt64())
}

func TestGraphQLTracingMiddleware_NoQuery(t *testing.T) {
	recorder := setupTracing(t)
	handler := GraphQLTracingMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Empty(t, recorder.Ended())
}

func TestGraphQLTracingMiddleware_ParseError(t *testing.T) {
	recorder := setupTracing(t)
	handler := GraphQLTracingMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphql?query=%7B", nil))
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.NotEmpty(t, spans[0].Events())
}
