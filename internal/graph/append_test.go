package graph_test

import (
	"context"
	"path/filepath"
	"testing"

	"kgxops/internal/config"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAddsColumns(t *testing.T) {
	f := newFixture(t)
	f.join(
		[]config.FileSpec{f.file("nodes.tsv", "id\nX:1\nX:2\nX:3\n")},
		[]config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\nX:1\tp\tX:2\nX:2\tp\tX:3\n")},
	)
	before := f.rows(storage.TableEdges)

	res, err := f.engine.Append(context.Background(), config.AppendConfig{
		EdgeFiles: []config.FileSpec{f.file("scored.jsonl",
			`{"subject":"X:1","predicate":"p","object":"X:3","confidence":0.9}`+"\n")},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.RecordsAdded)
	assert.Equal(t, 1, res.NewColumnsAdded)
	assert.Equal(t, []string{"added column confidence (float) to edges"}, res.SchemaChanges)

	after := f.rows(storage.TableEdges)
	require.Len(t, after, 3)
	for i, old := range before {
		for col, v := range old {
			assert.Equal(t, v, after[i][col], "row %d column %s", i, col)
		}
		assert.Nil(t, after[i]["confidence"])
	}
	assert.Equal(t, 0.9, after[2]["confidence"])
	assert.Equal(t, "scored", after[2]["file_source"])
}

func TestAppendKeepsLiveColumnTypes(t *testing.T) {
	f := newFixture(t)
	f.join(nil, []config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\tweight\nX:1\tp\tX:2\theavy\n")})

	res, err := f.engine.Append(context.Background(), config.AppendConfig{
		EdgeFiles: []config.FileSpec{f.file("more.jsonl", `{"subject":"X:2","predicate":"p","object":"X:3","weight":2}`+"\n")},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "weight")
	assert.Empty(t, res.SchemaChanges)
	assert.Equal(t, []any{"heavy", "2"}, f.column(storage.TableEdges, "weight"))
}

func TestAppendCreatesMissingTableAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	f.join([]config.FileSpec{f.file("nodes.tsv", "id\nX:1\nX:2\n")}, nil)

	res, err := f.engine.Append(context.Background(), config.AppendConfig{
		NodeFiles:   []config.FileSpec{f.file("more_nodes.tsv", "id\nX:2\nX:3\n")},
		EdgeFiles:   []config.FileSpec{f.file("edges.tsv", "subject\tpredicate\tobject\nX:1\tp\tX:3\n")},
		Deduplicate: true,
	})
	require.NoError(t, err)
	assert.Contains(t, res.SchemaChanges, "created table edges")
	require.NotNil(t, res.Dedupe)
	assert.Equal(t, int64(1), res.Dedupe.Nodes.Removed)
	assert.Equal(t, []string{"X:1", "X:2", "X:3"}, f.ids(storage.TableNodes))
	// file_source order decides, not load order
	assert.Equal(t, []any{"nodes", "more_nodes", "more_nodes"}, f.column(storage.TableNodes, "file_source"))
}

func TestAppendKeepsNodesWhenEdgeFileFails(t *testing.T) {
	f := newFixture(t)
	f.join([]config.FileSpec{f.file("nodes.tsv", "id\nX:1\n")}, nil)

	res, err := f.engine.Append(context.Background(), config.AppendConfig{
		NodeFiles: []config.FileSpec{f.file("more_nodes.tsv", "id\nX:2\n")},
		EdgeFiles: []config.FileSpec{{Path: filepath.Join(f.dir, "missing_edges.tsv")}},
	})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, int64(1), res.RecordsAdded)
	assert.True(t, anyContains(res.Warnings, "missing_edges.tsv"), "%v", res.Warnings)
	assert.Equal(t, []string{"X:1", "X:2"}, f.ids(storage.TableNodes))
}

func TestAppendNeedsExistingGraph(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Append(context.Background(), config.AppendConfig{
		NodeFiles: []config.FileSpec{f.file("nodes.tsv", "id\nX:1\n")},
	})
	require.Error(t, err)
	assert.True(t, kgxerr.IsConfig(err))
	assert.False(t, res.Success)

	tables, err := f.store.Tables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
}
