package resultapi

import (
	"net/http"

	"github.com/graphql-go/handler"

	"tidb-dataframe/internal/action"
)

// NewHandler returns the GraphQL HTTP handler over store. With graphiQL set,
// browsers get the GraphiQL page on GET.
func NewHandler(store *Store, registry *action.Registry, graphiQL bool) (http.Handler, error) {
	schema, err := NewSchema(store, registry)
	if err != nil {
		return nil, err
	}
	return handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: graphiQL,
	}), nil
}
