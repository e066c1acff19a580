// Package parser defines the contract shared by the input format parsers and
// the column builder they use to settle each column's type.
package parser

import (
	"context"
	"io"

	"kgxops/internal/schema"
)

// Table is a fully parsed input file. Every row has len(Columns) values.
type Table struct {
	Columns []schema.Column
	Rows    [][]any
}

// Options configures parsing. The zero value is usable.
type Options struct {
	// Comma separates fields in delimited files. Zero selects a tab.
	Comma rune

	// ListDelimiter splits multivalued fields in delimited files. Empty
	// selects "|".
	ListDelimiter string

	// Multivalued decides which columns hold string arrays.
	Multivalued schema.Multivalued

	// Types declares column types that override inference.
	Types map[string]schema.Type
}

// ListDelim returns the configured list delimiter or the default.
func (o Options) ListDelim() string {
	if o.ListDelimiter == "" {
		return "|"
	}
	return o.ListDelimiter
}

// Parser reads a whole input stream into a Table.
type Parser interface {
	Parse(ctx context.Context, r io.Reader) (*Table, error)
}
