package schema

// DefaultMultivalued lists KGX fields that are multivalued in the Biolink
// model and therefore stored as string arrays.
var DefaultMultivalued = []string{
	"category",
	"provided_by",
	"xref",
	"synonym",
	"publications",
	"same_as",
	"in_taxon",
	"in_taxon_label",
	"aggregator_knowledge_source",
	"supporting_data_source",
	"qualifiers",
	"has_evidence",
}

// DefaultSingleValued lists fields that stay scalar even when a schema
// lookup would report them as multivalued.
var DefaultSingleValued = []string{
	"id",
	"subject",
	"predicate",
	"object",
	"name",
	"description",
	"knowledge_level",
	"agent_type",
	"primary_knowledge_source",
	"negated",
	"file_source",
	"original_subject",
	"original_object",
}

// Multivalued decides whether a column holds arrays.
//
// A column is multivalued when it is declared so, or when it is in the known
// set and not forced single-valued. An explicit declaration beats the forced
// single-valued set.
type Multivalued struct {
	declared map[string]struct{}
	known    map[string]struct{}
	single   map[string]struct{}
}

// NewMultivalued builds a resolver. A nil known or single slice selects the
// package defaults; pass an empty, non-nil slice to disable them.
func NewMultivalued(declared, known, single []string) Multivalued {
	if known == nil {
		known = DefaultMultivalued
	}
	if single == nil {
		single = DefaultSingleValued
	}
	return Multivalued{
		declared: toSet(declared),
		known:    toSet(known),
		single:   toSet(single),
	}
}

// IsArray reports whether column name is multivalued.
func (m Multivalued) IsArray(name string) bool {
	if _, ok := m.declared[name]; ok {
		return true
	}
	if _, ok := m.single[name]; ok {
		return false
	}
	_, ok := m.known[name]
	return ok
}

func toSet(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		out[x] = struct{}{}
	}
	return out
}
