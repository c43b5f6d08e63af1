package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"go.opentelemetry.io/otel/attribute"
)

type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

// queryMetadata is the shape of the operation a request selects.
type queryMetadata struct {
	operationType  string
	operationName  string
	fieldCount     int
	selectionDepth int
	variableCount  int
}

func (m *queryMetadata) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("graphql.operation.type", m.operationType),
		attribute.Int("graphql.document.field_count", m.fieldCount),
		attribute.Int("graphql.document.depth", m.selectionDepth),
		attribute.Int("graphql.document.variable_count", m.variableCount),
	}
	if m.operationName != "" {
		attrs = append(attrs, attribute.String("graphql.operation.name", m.operationName))
	}
	return attrs
}

// extractGraphQLRequest reads the query and operation name from a GET query
// string or a POST body. The body is restored for the next handler.
func extractGraphQLRequest(r *http.Request) (string, string) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	case http.MethodPost:
	default:
		return "", ""
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", ""
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if strings.Contains(r.Header.Get("Content-Type"), "application/graphql") {
		return string(body), ""
	}

	var payload graphQLRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Query, payload.OperationName
}

// extractQueryMetadata parses query and describes the operation named
// operationName, or the first operation when no name is given. It returns nil
// when the query is empty or the named operation is absent.
func extractQueryMetadata(query, operationName string) (*queryMetadata, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(query), Name: "graphql"}),
	})
	if err != nil {
		return nil, err
	}

	fragments := make(map[string]*ast.FragmentDefinition)
	var target *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.FragmentDefinition:
			fragments[d.Name.Value] = d
		case *ast.OperationDefinition:
			if operationName == "" && target == nil {
				target = d
			}
			if operationName != "" && d.Name != nil && d.Name.Value == operationName {
				target = d
			}
		}
	}
	if target == nil {
		return nil, nil
	}

	metadata := &queryMetadata{
		operationType: string(target.Operation),
		variableCount: len(target.VariableDefinitions),
	}
	if target.Name != nil {
		metadata.operationName = target.Name.Value
	}
	if target.SelectionSet != nil {
		metadata.fieldCount, metadata.selectionDepth = countFieldsAndDepth(target.SelectionSet, fragments, 1, map[string]bool{}, map[string]bool{})
	}
	return metadata, nil
}

// countFieldsAndDepth walks a selection set. Each fragment is expanded at most
// once, so cyclic spreads terminate.
func countFieldsAndDepth(selectionSet *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, currentDepth int, visited, inFlight map[string]bool) (fields, maxDepth int) {
	if selectionSet == nil {
		return 0, currentDepth - 1
	}

	maxDepth = currentDepth
	descend := func(set *ast.SelectionSet, depth int) {
		f, d := countFieldsAndDepth(set, fragments, depth, visited, inFlight)
		fields += f
		maxDepth = max(maxDepth, d)
	}

	for _, selection := range selectionSet.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			fields++
			if sel.SelectionSet != nil {
				descend(sel.SelectionSet, currentDepth+1)
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				descend(sel.SelectionSet, currentDepth)
			}
		case *ast.FragmentSpread:
			name := sel.Name.Value
			if inFlight[name] || visited[name] {
				continue
			}
			inFlight[name] = true
			visited[name] = true
			if frag, ok := fragments[name]; ok && frag.SelectionSet != nil {
				descend(frag.SelectionSet, currentDepth)
			}
			delete(inFlight, name)
		}
	}
	return fields, maxDepth
}
