package resultapi

import (
	"encoding/json"
	"log/slog"
	"math"
	"strconv"

	"github.com/graphql-go/graphql"
)

// bigIntScalar carries 64-bit counters, which overflow the 32-bit GraphQL Int.
// Values are serialized as decimal strings.
var bigIntScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "BigInt",
	Description: "64-bit integer value serialized as a string.",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case int:
			return strconv.FormatInt(int64(v), 10)
		case int64:
			return strconv.FormatInt(v, 10)
		case uint64:
			return strconv.FormatUint(v, 10)
		case float64:
			if v != math.Trunc(v) {
				return nil
			}
			return strconv.FormatInt(int64(v), 10)
		default:
			return nil
		}
	},
})

// jsonScalar carries scalar and list action results of any element type.
var jsonScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "Arbitrary JSON value serialized as a string.",
	Serialize: func(value interface{}) interface{} {
		if value == nil {
			return nil
		}
		serialized, err := json.Marshal(value)
		if err != nil {
			slog.Default().Warn("failed to serialize JSON scalar", slog.String("error", err.Error()))
			return nil
		}
		return string(serialized)
	},
})
