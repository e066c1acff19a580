package tsv_test

import (
	"context"
	"strings"
	"testing"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/parser"
	"kgxops/internal/parser/tsv"
	"kgxops/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, opts parser.Options, in string) (*parser.Table, error) {
	t.Helper()
	return tsv.New(opts).Parse(context.Background(), strings.NewReader(in))
}

func TestParseNodes(t *testing.T) {
	in := "\uFEFFid\tname\tcategory\txref\n" +
		"HGNC:1\tA1BG\tbiolink:Gene|biolink:NamedThing\t\n" +
		"HGNC:2\t\tbiolink:Gene\tENSEMBL:1\n"
	tbl, err := parse(t, parser.Options{Multivalued: schema.NewMultivalued(nil, nil, nil)}, in)
	require.NoError(t, err)

	assert.Equal(t, []schema.Column{
		{Name: "id", Type: schema.String},
		{Name: "name", Type: schema.String},
		{Name: "category", Type: schema.StringArray},
		{Name: "xref", Type: schema.StringArray},
	}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []any{"HGNC:1", "A1BG", []string{"biolink:Gene", "biolink:NamedThing"}, nil}, tbl.Rows[0])
	assert.Equal(t, []any{"HGNC:2", nil, []string{"biolink:Gene"}, []string{"ENSEMBL:1"}}, tbl.Rows[1])
}

func TestParseSSSOMSkipsMetadata(t *testing.T) {
	in := "# curie_map:\n#   HGNC: http://example.org/\n" +
		"subject_id\tpredicate_id\tobject_id\tmapping_justification\n" +
		"HGNC:1\tskos:exactMatch\tOLD:1\tsemapv:ManualMappingCuration\n"
	tbl, err := parse(t, parser.Options{}, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"subject_id", "predicate_id", "object_id", "mapping_justification"}, schema.Names(tbl.Columns))
	assert.Len(t, tbl.Rows, 1)
}

func TestParseDeclaredTypesAndShortRows(t *testing.T) {
	in := "id,score,ok,tags\nA,3,true,x;y\nB\n"
	tbl, err := parse(t, parser.Options{
		Comma:         ',',
		ListDelimiter: ";",
		Types: map[string]schema.Type{
			"score": schema.Integer,
			"ok":    schema.Boolean,
			"tags":  schema.StringArray,
		},
	}, in)
	require.NoError(t, err)
	assert.Equal(t, []any{"A", int64(3), true, []string{"x", "y"}}, tbl.Rows[0])
	assert.Equal(t, []any{"B", nil, nil, nil}, tbl.Rows[1])
}

func TestParseHeaderOnly(t *testing.T) {
	tbl, err := parse(t, parser.Options{}, "id\tname\n")
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows)
	assert.Equal(t, []string{"id", "name"}, schema.Names(tbl.Columns))
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]struct {
		in   string
		opts parser.Options
	}{
		"empty":          {in: ""},
		"duplicate":      {in: "id\tid\nA\tB\n"},
		"too many":       {in: "id\nA\tB\n"},
		"blank header":   {in: "id\t\nA\tB\n"},
		"invalid number": {in: "id\tn\nA\tx\n", opts: parser.Options{Types: map[string]schema.Type{"n": schema.Integer}}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, c.opts, c.in)
			require.Error(t, err)
			assert.Equal(t, kgxerr.CodeInputFileMalformed, kgxerr.CodeOf(err))
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "\u00e9", tsv.NormalizeHeader(" e\u0301 "))
	assert.Equal(t, "id", tsv.NormalizeHeader("\uFEFFid"))
}

func TestParseKeepsQuotesInTabDelimitedFields(t *testing.T) {
	in := "id\tname\n" +
		"X:1\t\"Bob\" the gene\n" +
		"X:2\t5\" ruler\n" +
		"X:3\t\"open quote\n" +
		"X:4\tfour\n" +
		"X:5\tfive\n"
	tbl, err := parse(t, parser.Options{}, in)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 5)
	assert.Equal(t, []any{"X:1", "\"Bob\" the gene"}, tbl.Rows[0])
	assert.Equal(t, []any{"X:2", "5\" ruler"}, tbl.Rows[1])
	assert.Equal(t, []any{"X:3", "\"open quote"}, tbl.Rows[2])
	assert.Equal(t, []any{"X:5", "five"}, tbl.Rows[4])
}

func TestParseHashOnlySkippedBeforeHeader(t *testing.T) {
	in := "# metadata\nid\tname\nX:1\tone\n#X:2\ttwo\nX:3\tthree\n"
	tbl, err := parse(t, parser.Options{}, in)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, []any{"#X:2", "two"}, tbl.Rows[1])
}

func TestParseCSVQuoting(t *testing.T) {
	tbl, err := parse(t, parser.Options{Comma: ','}, "#meta\nid,name\nX:1,\"a, b\"\n")
	require.NoError(t, err)
	assert.Equal(t, []any{"X:1", "a, b"}, tbl.Rows[0])

	_, err = parse(t, parser.Options{Comma: ','}, "id,name\nX:1,5\" ruler\n")
	require.Error(t, err)
	assert.Equal(t, kgxerr.CodeInputFileMalformed, kgxerr.CodeOf(err))
}

func TestParseReportsLineAfterMetadata(t *testing.T) {
	_, err := parse(t, parser.Options{}, "# a\n# b\nid\nX:1\nX:2\textra\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 5")
}
