package parser

import "kgxops/internal/schema"

// Field is one inferred value of a record.
type Field struct {
	Name  string
	Value any
	Type  schema.Type
}

// Builder accumulates records whose fields may vary from row to row. Columns
// keep first-seen order and widen as new value types show up; Table coerces
// earlier values to the final column types.
type Builder struct {
	opts  Options
	cols  []schema.Column
	index map[string]int
	rows  [][]any
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts, index: map[string]int{}}
}

// Column registers name without a value so that header-only inputs keep
// their columns.
func (b *Builder) Column(name string) int {
	if i, ok := b.index[name]; ok {
		return i
	}
	t := schema.Unknown
	if b.opts.Multivalued.IsArray(name) {
		t = schema.StringArray
	}
	if d, ok := b.opts.Types[name]; ok {
		t = d
	}
	b.index[name] = len(b.cols)
	b.cols = append(b.cols, schema.Column{Name: name, Type: t})
	return len(b.cols) - 1
}

// Add appends one record.
func (b *Builder) Add(fields []Field) {
	row := make([]any, len(b.cols), len(b.cols)+len(fields))
	for _, f := range fields {
		i := b.Column(f.Name)
		if i >= len(row) {
			row = append(row, make([]any, i+1-len(row))...)
		}
		if f.Value == nil {
			continue
		}
		c := &b.cols[i]
		v, t := f.Value, f.Type
		if c.Type.IsArray() && !t.IsArray() {
			v, t = []string{schema.Stringify(v)}, schema.StringArray
		}
		if _, declared := b.opts.Types[c.Name]; !declared {
			c.Type = schema.Widen(c.Type, t)
		}
		row[i] = v
	}
	b.rows = append(b.rows, row)
}

// Len reports the number of records added.
func (b *Builder) Len() int { return len(b.rows) }

// Table returns the built table. Columns that never held a value stay
// Unknown.
func (b *Builder) Table() *Table {
	for r, row := range b.rows {
		if len(row) < len(b.cols) {
			row = append(row, make([]any, len(b.cols)-len(row))...)
			b.rows[r] = row
		}
		for i, v := range row {
			if v != nil {
				row[i] = schema.Coerce(v, b.cols[i].Type)
			}
		}
	}
	return &Table{Columns: b.cols, Rows: b.rows}
}
