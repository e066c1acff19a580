package parquet_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/parser"
	"kgxops/internal/parser/parquet"
	"kgxops/internal/schema"

	pq "github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodeRow struct {
	ID       string   `parquet:"id"`
	Name     *string  `parquet:"name,optional"`
	Category []string `parquet:"category"`
	Rank     int64    `parquet:"rank"`
	Score    float64  `parquet:"score"`
	Obsolete bool     `parquet:"obsolete"`
}

func strPtr(s string) *string { return &s }

func TestParseNodes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, pq.Write(&buf, []nodeRow{
		{ID: "HGNC:1", Name: strPtr("A1BG"), Category: []string{"biolink:Gene", "biolink:NamedThing"}, Rank: 1, Score: 0.5},
		{ID: "HGNC:2", Rank: 2, Score: 1.5, Obsolete: true},
	}))

	tbl, err := parquet.New(parser.Options{}).Parse(context.Background(), &buf)
	require.NoError(t, err)

	types := map[string]schema.Type{}
	for _, c := range tbl.Columns {
		types[c.Name] = c.Type
	}
	assert.Equal(t, map[string]schema.Type{
		"id":       schema.String,
		"name":     schema.String,
		"category": schema.StringArray,
		"rank":     schema.Integer,
		"score":    schema.Float,
		"obsolete": schema.Boolean,
	}, types)

	require.Len(t, tbl.Rows, 2)
	rows := make([]map[string]any, len(tbl.Rows))
	for i, r := range tbl.Rows {
		rows[i] = map[string]any{}
		for j, c := range tbl.Columns {
			rows[i][c.Name] = r[j]
		}
	}
	assert.Equal(t, map[string]any{
		"id": "HGNC:1", "name": "A1BG", "category": []string{"biolink:Gene", "biolink:NamedThing"},
		"rank": int64(1), "score": 0.5, "obsolete": false,
	}, rows[0])
	assert.Equal(t, map[string]any{
		"id": "HGNC:2", "name": nil, "category": nil,
		"rank": int64(2), "score": 1.5, "obsolete": true,
	}, rows[1])
}

func TestParseRejectsNonParquet(t *testing.T) {
	_, err := parquet.New(parser.Options{}).Parse(context.Background(), strings.NewReader("id\tname\n"))
	require.Error(t, err)
	assert.Equal(t, kgxerr.CodeInputFileMalformed, kgxerr.CodeOf(err))
}
