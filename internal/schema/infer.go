package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// InferValue normalizes a decoded JSON value and reports its type. Numbers
// must be json.Number (decoders run with UseNumber). Nested objects are kept
// as their JSON text; arrays become string arrays.
func InferValue(v any) (any, Type) {
	switch x := v.(type) {
	case nil:
		return nil, Unknown
	case bool:
		return x, Boolean
	case string:
		return x, String
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, Integer
		}
		if f, err := x.Float64(); err == nil {
			return f, Float
		}
		return x.String(), String
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), Integer
		}
		return x, Float
	case int64:
		return x, Integer
	case int:
		return int64(x), Integer
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if e == nil {
				continue
			}
			out = append(out, Stringify(e))
		}
		return out, StringArray
	case []string:
		return x, StringArray
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x), String
		}
		return string(b), String
	default:
		return fmt.Sprint(x), String
	}
}

// Stringify renders a scalar the way it would appear in a delimited file.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// Coerce converts an already inferred value of type from into type to. It is
// used when a column is widened after some rows were read, so it only has to
// handle widening conversions.
func Coerce(v any, to Type) any {
	if v == nil {
		return nil
	}
	switch to {
	case StringArray:
		switch x := v.(type) {
		case []string:
			return x
		default:
			return []string{Stringify(x)}
		}
	case String, Unknown:
		if xs, ok := v.([]string); ok {
			b, _ := json.Marshal(xs)
			return string(b)
		}
		return Stringify(v)
	case Float:
		switch x := v.(type) {
		case int64:
			return float64(x)
		case bool:
			if x {
				return float64(1)
			}
			return float64(0)
		}
	case Integer:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
	}
	return v
}
