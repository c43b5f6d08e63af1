package introspection

import (
	"fmt"
	"strings"
)

func parseEnumValues(columnType string) ([]string, error) {
	return parseMembers(columnType, "enum")
}

func parseSetValues(columnType string) ([]string, error) {
	return parseMembers(columnType, "set")
}

// parseMembers reads the quoted member list of an ENUM(...) or SET(...)
// COLUMN_TYPE. Both backslash escapes and doubled quotes are accepted.
func parseMembers(columnType, keyword string) ([]string, error) {
	trimmed := strings.TrimSpace(columnType)
	prefix := keyword + "("
	if len(trimmed) < len(prefix)+1 ||
		!strings.EqualFold(trimmed[:len(prefix)], prefix) || !strings.HasSuffix(trimmed, ")") {
		return nil, fmt.Errorf("invalid %s definition %q", keyword, columnType)
	}
	def := trimmed[len(prefix) : len(trimmed)-1]

	var values []string
	i := 0
	skip := func(chars string) {
		for i < len(def) && strings.IndexByte(chars, def[i]) >= 0 {
			i++
		}
	}
	for {
		skip(" ,")
		if i >= len(def) {
			break
		}
		if def[i] != '\'' {
			return nil, fmt.Errorf("expected quote at position %d", i)
		}
		i++
		var sb strings.Builder
		closed := false
		for i < len(def) && !closed {
			switch ch := def[i]; {
			case ch == '\\':
				if i+1 >= len(def) {
					return nil, fmt.Errorf("unterminated escape")
				}
				sb.WriteByte(def[i+1])
				i += 2
			case ch == '\'' && i+1 < len(def) && def[i+1] == '\'':
				sb.WriteByte('\'')
				i += 2
			case ch == '\'':
				closed = true
				i++
			default:
				sb.WriteByte(ch)
				i++
			}
		}
		if !closed {
			return nil, fmt.Errorf("unterminated %s member", keyword)
		}
		values = append(values, sb.String())
		skip(" ")
		if i < len(def) && def[i] != ',' {
			return nil, fmt.Errorf("expected comma at position %d", i)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no %s values parsed", keyword)
	}
	return values, nil
}
