package sqlite

import (
	"encoding/json"
	"fmt"
	"strings"

	"kgxops/internal/schema"
)

// Declared SQLite column types. SQLite only keeps the declared name and an
// affinity; TEXT_LIST keeps TEXT affinity and marks JSON-encoded arrays.
const (
	sqlText    = "TEXT"
	sqlInteger = "INTEGER"
	sqlReal    = "REAL"
	sqlBoolean = "BOOLEAN"
	sqlList    = "TEXT_LIST"
)

// quoteIdent quotes an identifier for SQLite, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteString renders a SQL string literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func qualified(table, col string) string {
	return quoteIdent(table) + "." + quoteIdent(col)
}

func sqlType(t schema.Type) string {
	switch t {
	case schema.Integer:
		return sqlInteger
	case schema.Float:
		return sqlReal
	case schema.Boolean:
		return sqlBoolean
	case schema.StringArray:
		return sqlList
	default:
		return sqlText
	}
}

func fromSQLType(decl string) schema.Type {
	switch strings.ToUpper(strings.TrimSpace(decl)) {
	case sqlInteger, "INT", "BIGINT":
		return schema.Integer
	case sqlReal, "DOUBLE", "FLOAT":
		return schema.Float
	case sqlBoolean, "BOOL":
		return schema.Boolean
	case sqlList:
		return schema.StringArray
	default:
		return schema.String
	}
}

func columnDefs(cols []schema.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = quoteIdent(c.Name) + " " + sqlType(c.Type.Materialized())
	}
	return strings.Join(parts, ", ")
}

func quoteList(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = quoteIdent(n)
	}
	return strings.Join(parts, ", ")
}

// convertExpr returns the select expression that moves column col of type
// from into a column of type to. Only widening conversions rewrite the
// value; a narrower destination receives the value unchanged, which SQLite's
// dynamic typing stores without loss.
func convertExpr(col string, from, to schema.Type) string {
	c := quoteIdent(col)
	from, to = from.Materialized(), to.Materialized()
	if from == to {
		return c
	}
	switch to {
	case schema.StringArray:
		if from == schema.Boolean {
			return fmt.Sprintf("CASE WHEN %[1]s IS NULL THEN NULL WHEN %[1]s THEN json_array('true') ELSE json_array('false') END", c)
		}
		return fmt.Sprintf("CASE WHEN %[1]s IS NULL THEN NULL ELSE json_array(CAST(%[1]s AS TEXT)) END", c)
	case schema.String:
		switch from {
		case schema.Boolean:
			return fmt.Sprintf("CASE WHEN %[1]s IS NULL THEN NULL WHEN %[1]s THEN 'true' ELSE 'false' END", c)
		case schema.Integer, schema.Float:
			return fmt.Sprintf("CAST(%s AS TEXT)", c)
		}
	case schema.Float:
		if from == schema.Integer || from == schema.Boolean {
			return fmt.Sprintf("CAST(%s AS REAL)", c)
		}
	}
	return c
}

// keyExpr builds a text key over cols that is NULL when any column is NULL.
func keyExpr(table string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = "CAST(" + qualified(table, c) + " AS TEXT)"
	}
	return strings.Join(parts, " || char(31) || ")
}

// encodeValue converts a Go value into something the driver binds.
func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case []string:
		if x == nil {
			return nil, nil
		}
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return v, nil
	}
}

// decodeValue converts a scanned driver value back into the Go value for a
// column of type t.
func decodeValue(v any, t schema.Type) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch t {
	case schema.StringArray:
		s, ok := v.(string)
		if !ok {
			return []string{schema.Stringify(v)}
		}
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return []string{s}
		}
		return out
	case schema.Boolean:
		switch x := v.(type) {
		case int64:
			return x != 0
		case bool:
			return x
		}
	case schema.Float:
		if x, ok := v.(int64); ok {
			return float64(x)
		}
	}
	return v
}
