// Package schema models the column types of staged and live graph tables
// and the name-based harmonization rules used when tables are combined.
package schema

import (
	"fmt"
	"strings"
)

// Type is the logical type of a column. Every column is nullable.
type Type string

const (
	// Unknown marks a column whose values were all null; it widens to any
	// other type and is materialized as String.
	Unknown     Type = ""
	Boolean     Type = "boolean"
	Integer     Type = "integer"
	Float       Type = "float"
	String      Type = "string"
	StringArray Type = "string[]"
)

// Column is a named, typed column. Columns are always looked up by name.
type Column struct {
	Name string
	Type Type
}

func (c Column) String() string {
	return fmt.Sprintf("%s %s", c.Name, c.Type.orString())
}

// IsArray reports whether t is multivalued.
func (t Type) IsArray() bool { return t == StringArray }

func (t Type) orString() Type {
	if t == Unknown {
		return String
	}
	return t
}

// Materialized returns the type a column of type t is created with.
func (t Type) Materialized() Type { return t.orString() }

// ParseType maps a loosely spelled type name to a Type. It accepts the names
// used in loader configuration ("str", "int", "list", ...) as well as the
// canonical names.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str", "text", "varchar":
		return String, nil
	case "integer", "int", "bigint", "int64":
		return Integer, nil
	case "float", "double", "real", "float64", "number":
		return Float, nil
	case "boolean", "bool":
		return Boolean, nil
	case "string[]", "list", "array", "multivalued", "varchar[]":
		return StringArray, nil
	default:
		return Unknown, fmt.Errorf("schema: unknown type %q", s)
	}
}

// rank orders scalar types from narrowest to widest.
func rank(t Type) int {
	switch t {
	case Unknown:
		return 0
	case Boolean:
		return 1
	case Integer:
		return 2
	case Float:
		return 3
	case String:
		return 4
	case StringArray:
		return 5
	}
	return 4
}

// Widen returns the most permissive type able to hold values of both a and
// b without loss: boolean < integer < float < string < string[]. A scalar
// meeting an array becomes an array of its string form.
func Widen(a, b Type) Type {
	if rank(a) >= rank(b) {
		return a
	}
	return b
}
