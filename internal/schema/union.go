package schema

import "fmt"

// Conflict records a column whose type differed between inputs and the type
// it was widened to.
type Conflict struct {
	Column string
	Types  []Type
	Result Type
}

func (c Conflict) String() string {
	return fmt.Sprintf("column %q has types %v across inputs; widened to %s", c.Column, c.Types, c.Result.orString())
}

// Union computes the name-based union of column sets. Columns keep the order
// in which they were first seen; a column present in several inputs is
// widened to the most permissive type.
func Union(sets ...[]Column) ([]Column, []Conflict) {
	var (
		out   []Column
		index = map[string]int{}
		seen  = map[string][]Type{}
	)
	for _, set := range sets {
		for _, c := range set {
			i, ok := index[c.Name]
			if !ok {
				index[c.Name] = len(out)
				out = append(out, c)
				seen[c.Name] = []Type{c.Type}
				continue
			}
			if !containsType(seen[c.Name], c.Type) {
				seen[c.Name] = append(seen[c.Name], c.Type)
			}
			out[i].Type = Widen(out[i].Type, c.Type)
		}
	}

	var conflicts []Conflict
	for _, c := range out {
		if known := knownTypes(seen[c.Name]); len(known) > 1 {
			conflicts = append(conflicts, Conflict{Column: c.Name, Types: known, Result: c.Type})
		}
	}
	return out, conflicts
}

// Missing returns the columns of want that are absent (by name) from have.
func Missing(have, want []Column) []Column {
	names := Names(have)
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}
	var out []Column
	for _, c := range want {
		if _, ok := present[c.Name]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the column names in order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Lookup finds a column by name.
func Lookup(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Has reports whether every name is present in cols.
func Has(cols []Column, names ...string) bool {
	for _, n := range names {
		if _, ok := Lookup(cols, n); !ok {
			return false
		}
	}
	return true
}

func containsType(ts []Type, t Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func knownTypes(ts []Type) []Type {
	var out []Type
	for _, t := range ts {
		if t != Unknown {
			out = append(out, t)
		}
	}
	return out
}
