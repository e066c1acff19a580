package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/schema"
	"kgxops/internal/storage"
	"kgxops/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustTable(t *testing.T, s storage.Store, name string, cols []schema.Column, rows ...[]any) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, name, cols))
	if len(rows) > 0 {
		_, err := s.Insert(ctx, name, schema.Names(cols), rows)
		require.NoError(t, err)
	}
}

func scanAll(t *testing.T, s storage.Store, table string) []storage.Row {
	t.Helper()
	var out []storage.Row
	require.NoError(t, s.Scan(context.Background(), table, nil, func(r storage.Row) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func column(rows []storage.Row, name string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[name]
	}
	return out
}

func count(t *testing.T, s storage.Store, table string) int64 {
	t.Helper()
	n, err := s.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

var nodeCols = []schema.Column{
	{Name: "id", Type: schema.String},
	{Name: "name", Type: schema.String},
	{Name: "category", Type: schema.StringArray},
	{Name: "file_source", Type: schema.String},
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, storage.ListKinds(), "sqlite")

	_, err := storage.Open(context.Background(), storage.Config{Kind: "nope"})
	require.Error(t, err)
	assert.Equal(t, kgxerr.CodeStoreBackendUnknown, kgxerr.CodeOf(err))
}

func TestInsertScanRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cols := []schema.Column{
		{Name: "s", Type: schema.String},
		{Name: "i", Type: schema.Integer},
		{Name: "f", Type: schema.Float},
		{Name: "b", Type: schema.Boolean},
		{Name: "l", Type: schema.StringArray},
		{Name: "u", Type: schema.Unknown},
	}
	mustTable(t, s, "t", cols,
		[]any{"a", 1, 1.5, true, []string{"x", "y"}, nil},
		[]any{nil, nil, 2, false, nil, nil},
	)

	got, err := s.Columns(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, schema.String, got[5].Type, "unknown materializes as string")
	assert.Equal(t, schema.StringArray, got[4].Type)

	rows := scanAll(t, s, "t")
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["s"])
	assert.Equal(t, int64(1), rows[0]["i"])
	assert.Equal(t, 1.5, rows[0]["f"])
	assert.Equal(t, true, rows[0]["b"])
	assert.Equal(t, []string{"x", "y"}, rows[0]["l"])
	assert.Nil(t, rows[1]["s"])
	assert.Equal(t, 2.0, rows[1]["f"])
	assert.Equal(t, false, rows[1]["b"])
	assert.Nil(t, rows[1]["l"])

	var ids []any
	require.NoError(t, s.Scan(ctx, "t", []string{"i"}, func(r storage.Row) error {
		assert.Len(t, r, 1)
		ids = append(ids, r["i"])
		return nil
	}))
	assert.Equal(t, []any{int64(1), nil}, ids)

	_, err = s.Insert(ctx, "t", []string{"s", "i"}, [][]any{{"short"}})
	require.Error(t, err)
}

func TestMissingTable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.HasTable(ctx, "nodes")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Count(ctx, "nodes")
	assert.Equal(t, kgxerr.CodeStoreTableNotFound, kgxerr.CodeOf(err))
	_, err = s.Columns(ctx, "nodes")
	assert.Equal(t, kgxerr.CodeStoreTableNotFound, kgxerr.CodeOf(err))
}

func TestAddColumnsAndTables(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols[:1], []any{"A"})

	added, err := s.AddColumns(ctx, "nodes", []schema.Column{
		{Name: "id", Type: schema.Integer},
		{Name: "taxon", Type: schema.String},
	})
	require.NoError(t, err)
	assert.Equal(t, []schema.Column{{Name: "taxon", Type: schema.String}}, added)

	rows := scanAll(t, s, "nodes")
	assert.Nil(t, rows[0]["taxon"])

	mustTable(t, s, "edges", nodeCols[:1])
	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"edges", "nodes"}, tables)

	require.NoError(t, s.DropTable(ctx, "edges"))
	require.NoError(t, s.DropTable(ctx, "edges"))
	tables, err = s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"nodes"}, tables)
}

func TestUnionByNameCreatesWidenedTable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "a", []schema.Column{{Name: "id", Type: schema.String}, {Name: "score", Type: schema.Integer}},
		[]any{"A", 1})
	mustTable(t, s, "b", []schema.Column{{Name: "id", Type: schema.String}, {Name: "score", Type: schema.String}, {Name: "extra", Type: schema.String}},
		[]any{"B", "high", "x"})

	res, err := s.UnionByName(ctx, "nodes", "a", "b")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(2), res.Rows)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "score", res.Conflicts[0].Column)
	assert.Equal(t, schema.String, res.Conflicts[0].Result)

	rows := scanAll(t, s, "nodes")
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"1", "high"}, column(rows, "score"))
	assert.Equal(t, []any{nil, "x"}, column(rows, "extra"))
}

func TestUnionByNameIntoExistingTable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", []schema.Column{{Name: "id", Type: schema.String}, {Name: "xref", Type: schema.StringArray}},
		[]any{"A", []string{"X:1"}})
	mustTable(t, s, "stage", []schema.Column{{Name: "id", Type: schema.String}, {Name: "xref", Type: schema.String}, {Name: "taxon", Type: schema.String}},
		[]any{"B", "X:2", "NCBITaxon:9606"})

	res, err := s.UnionByName(ctx, "nodes", "stage")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, []schema.Column{{Name: "taxon", Type: schema.String}}, res.AddedColumns)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, schema.StringArray, res.Conflicts[0].Result)

	rows := scanAll(t, s, "nodes")
	assert.Equal(t, []any{[]string{"X:1"}, []string{"X:2"}}, column(rows, "xref"))
	assert.Equal(t, []any{nil, "NCBITaxon:9606"}, column(rows, "taxon"))
}

func TestGroupFirstArchivesEveryCollidingRow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols,
		[]any{"A", "from b", nil, "b"},
		[]any{"A", "from a", nil, "a"},
		[]any{"B", "only", nil, "a"},
		[]any{nil, "no id", nil, "a"},
		[]any{nil, "no id", nil, "a"},
	)
	before := count(t, s, "nodes")

	res, err := s.GroupFirst(ctx, storage.GroupFirst{
		Table:   "nodes",
		Archive: "duplicate_nodes",
		Key:     []string{"id"},
		OrderBy: []string{"file_source", "provided_by"},
	})
	require.NoError(t, err)
	assert.Equal(t, storage.GroupResult{Keys: 1, Archived: 2, Removed: 1}, res)

	live := scanAll(t, s, "nodes")
	assert.Equal(t, []any{"from a", "only", "no id", "no id"}, column(live, "name"))
	archived := scanAll(t, s, "duplicate_nodes")
	assert.Equal(t, []any{"from b", "from a"}, column(archived, "name"))

	after := count(t, s, "nodes")
	assert.Equal(t, before, after+res.Archived-res.Keys)
	assert.Equal(t, before, after+res.Removed)

	res, err = s.GroupFirst(ctx, storage.GroupFirst{Table: "nodes", Archive: "duplicate_nodes", Key: []string{"id"}})
	require.NoError(t, err)
	assert.Zero(t, res.Keys)
	assert.Equal(t, int64(2), count(t, s, "duplicate_nodes"))
}

func TestGroupFirstFallbackKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cols := []schema.Column{
		{Name: "id", Type: schema.String},
		{Name: "subject", Type: schema.String},
		{Name: "predicate", Type: schema.String},
		{Name: "object", Type: schema.String},
	}
	mustTable(t, s, "edges", cols,
		[]any{nil, "A", "p", "B"},
		[]any{nil, "A", "p", "B"},
		[]any{"e1", "A", "p", "C"},
		[]any{"e1", "X", "q", "Y"},
		[]any{"e2", "A", "p", "B"},
	)
	res, err := s.GroupFirst(ctx, storage.GroupFirst{
		Table:       "edges",
		Archive:     "duplicate_edges",
		Key:         []string{"id"},
		FallbackKey: []string{"subject", "predicate", "object"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Keys)
	assert.Equal(t, int64(4), res.Archived)
	assert.Equal(t, int64(2), res.Removed)

	live := scanAll(t, s, "edges")
	assert.Equal(t, []any{nil, "e1", "e2"}, column(live, "id"))
	assert.Equal(t, []any{"B", "C", "B"}, column(live, "object"))
}

func TestAntiJoinDanglingEdges(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols[:1], []any{"A"}, []any{"B"})
	mustTable(t, s, "edges", []schema.Column{
		{Name: "subject", Type: schema.String},
		{Name: "object", Type: schema.String},
		{Name: "file_source", Type: schema.String},
	},
		[]any{"A", "B", "f1"},
		[]any{"A", "Z", "f1"},
		[]any{"Y", "Z", "f2"},
		[]any{"Y", "B", nil},
	)

	res, err := s.AntiJoin(ctx, storage.AntiJoin{
		Table:   "edges",
		Archive: "dangling_edges",
		Probes: []storage.Probe{
			{Name: "subject", Column: "subject", RefTable: "nodes", RefColumn: "id"},
			{Name: "object", Column: "object", RefTable: "nodes", RefColumn: "id"},
		},
		Mode:      storage.AnyUnmatched,
		TagColumn: "missing_endpoint",
		GroupBy:   "file_source",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Moved)
	assert.Equal(t, map[string]int64{"f1": 1, "f2": 1, "unknown": 1}, res.ByGroup)
	assert.Equal(t, map[string]int64{"f1": 1, "f2": 2, "unknown": 1}, res.MissingByGroup)

	assert.Equal(t, int64(1), count(t, s, "edges"))
	dangling := scanAll(t, s, "dangling_edges")
	assert.Equal(t, []any{"object", "subject,object", "subject"}, column(dangling, "missing_endpoint"))
}

func TestAntiJoinSingletons(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols[:1], []any{"A"}, []any{"B"}, []any{"C"})
	spec := storage.AntiJoin{
		Table:   "nodes",
		Archive: "singleton_nodes",
		Probes: []storage.Probe{
			{Name: "subject", Column: "id", RefTable: "edges", RefColumn: "subject"},
			{Name: "object", Column: "id", RefTable: "edges", RefColumn: "object"},
		},
		Mode: storage.AllUnmatched,
	}

	mustTable(t, s, "edges", []schema.Column{{Name: "subject", Type: schema.String}, {Name: "object", Type: schema.String}},
		[]any{"A", "B"})
	res, err := s.AntiJoin(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Moved)
	assert.Equal(t, []any{"C"}, column(scanAll(t, s, "singleton_nodes"), "id"))

	require.NoError(t, s.DropTable(ctx, "edges"))
	res, err = s.AntiJoin(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Moved, "a missing reference table resolves nothing")
	assert.Zero(t, count(t, s, "nodes"))
}

func TestAntiJoinCountOnly(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols[:1], []any{"A"}, []any{"B"})
	mustTable(t, s, "edges", []schema.Column{{Name: "subject", Type: schema.String}}, []any{"A"})

	res, err := s.AntiJoin(ctx, storage.AntiJoin{
		Table:     "nodes",
		Archive:   "singleton_nodes",
		Probes:    []storage.Probe{{Column: "id", RefTable: "edges", RefColumn: "subject"}},
		CountOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Moved)
	assert.Equal(t, int64(2), count(t, s, "nodes"))
	ok, err := s.HasTable(ctx, "singleton_nodes")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAntiJoinNothingToMove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols[:1], []any{"A"})
	mustTable(t, s, "edges", []schema.Column{{Name: "subject", Type: schema.String}}, []any{"A"})

	res, err := s.AntiJoin(ctx, storage.AntiJoin{
		Table:   "edges",
		Archive: "dangling_edges",
		Probes:  []storage.Probe{{Column: "subject", RefTable: "nodes", RefColumn: "id"}},
	})
	require.NoError(t, err)
	assert.Zero(t, res.Moved)
	ok, err := s.HasTable(ctx, "dangling_edges")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemapPreservesFirstOriginal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "edges", []schema.Column{{Name: "subject", Type: schema.String}, {Name: "object", Type: schema.String}},
		[]any{"OLD:1", "OLD:2"},
		[]any{"OLD:1", "KEEP:1"},
		[]any{nil, "KEEP:2"},
	)
	mustTable(t, s, "mappings", []schema.Column{{Name: "subject_id", Type: schema.String}, {Name: "object_id", Type: schema.String}},
		[]any{"NEW:1", "OLD:1"},
		[]any{"NEW:2", "OLD:2"},
		[]any{"NEWER:1", "NEW:1"},
	)
	spec := storage.Remap{
		Table: "edges", Columns: []string{"subject", "object"},
		Lookup: "mappings", LookupKey: "object_id", LookupValue: "subject_id",
		Preserve: true,
	}

	res, err := s.Remap(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, map[string]int64{"subject": 2, "object": 1}, res.ByColumn)

	rows := scanAll(t, s, "edges")
	assert.Equal(t, []any{"NEW:1", "NEW:1", nil}, column(rows, "subject"))
	assert.Equal(t, []any{"NEW:2", "KEEP:1", "KEEP:2"}, column(rows, "object"))
	assert.Equal(t, []any{"OLD:1", "OLD:1", nil}, column(rows, "original_subject"))
	assert.Equal(t, []any{"OLD:2", nil, nil}, column(rows, "original_object"))

	res, err = s.Remap(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	rows = scanAll(t, s, "edges")
	assert.Equal(t, []any{"NEWER:1", "NEWER:1", nil}, column(rows, "subject"))
	assert.Equal(t, []any{"OLD:1", "OLD:1", nil}, column(rows, "original_subject"))
}

func TestMoveByKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols[:1], []any{"A"}, []any{"B"}, []any{"C"})

	n, err := s.MoveByKeys(ctx, storage.MoveByKeys{Table: "nodes", Archive: "small_component_nodes", Column: "id", Keys: []string{"A", "C", "C", "Q"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []any{"B"}, column(scanAll(t, s, "nodes"), "id"))
	assert.Equal(t, []any{"A", "C"}, column(scanAll(t, s, "small_component_nodes"), "id"))

	n, err = s.MoveByKeys(ctx, storage.MoveByKeys{Table: "nodes", Archive: "small_component_nodes", Column: "id"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustTable(t, s, "nodes", nodeCols[:1], []any{"A"})

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx storage.Store) error {
		if _, err := tx.Insert(ctx, "nodes", []string{"id"}, [][]any{{"B"}}); err != nil {
			return err
		}
		if err := tx.CreateTable(ctx, "edges", nodeCols[:1]); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(1), count(t, s, "nodes"))
	ok, err := s.HasTable(ctx, "edges")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadOnlyFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	rw, err := sqlite.Open(ctx, storage.Config{Path: path})
	require.NoError(t, err)
	mustTable(t, rw, "nodes", nodeCols[:1], []any{"A"})
	require.NoError(t, rw.Close())

	ro, err := sqlite.Open(ctx, storage.Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	assert.True(t, ro.ReadOnly())
	assert.Positive(t, ro.Size())
	assert.Equal(t, int64(1), count(t, ro, "nodes"))

	err = ro.CreateTable(ctx, "edges", nodeCols[:1])
	assert.Equal(t, kgxerr.CodeStoreReadOnly, kgxerr.CodeOf(err))

	_, err = sqlite.Open(ctx, storage.Config{ReadOnly: true})
	require.Error(t, err)
	_, err = sqlite.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "absent.db"), ReadOnly: true})
	require.Error(t, err)
}
