package graph

import (
	"context"
	"sort"

	"kgxops/internal/loader"
	"kgxops/internal/schema"
	"kgxops/internal/storage"
)

// Stats counts the live and archive tables of a store. Absent tables count
// as zero.
type Stats struct {
	Nodes    int64
	Edges    int64
	Mappings int64

	DuplicateNodes      int64
	DuplicateEdges      int64
	DuplicateMappings   int64
	DanglingEdges       int64
	SingletonNodes      int64
	SmallComponentNodes int64
	SmallComponentEdges int64

	// SizeBytes is the database file size; zero for in-memory stores.
	SizeBytes int64
}

func (s Stats) SizeMB() float64 { return float64(s.SizeBytes) / (1 << 20) }

// CollectStats reads table counts from store. It only reads, so it works on
// read-only stores.
func CollectStats(ctx context.Context, store storage.Store) (Stats, error) {
	st := Stats{SizeBytes: store.Size()}
	targets := []struct {
		table string
		dst   *int64
	}{
		{storage.TableNodes, &st.Nodes},
		{storage.TableEdges, &st.Edges},
		{storage.TableMappings, &st.Mappings},
		{storage.TableDuplicateNodes, &st.DuplicateNodes},
		{storage.TableDuplicateEdges, &st.DuplicateEdges},
		{storage.TableDuplicateMappings, &st.DuplicateMappings},
		{storage.TableDanglingEdges, &st.DanglingEdges},
		{storage.TableSingletonNodes, &st.SingletonNodes},
		{storage.TableSmallCompNodes, &st.SmallComponentNodes},
		{storage.TableSmallCompEdges, &st.SmallComponentEdges},
	}
	for _, t := range targets {
		ok, err := store.HasTable(ctx, t.table)
		if err != nil {
			return Stats{}, err
		}
		if !ok {
			continue
		}
		if *t.dst, err = store.Count(ctx, t.table); err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}

// TableSchema is the column union of every file loaded into one table.
type TableSchema struct {
	Table     string
	Files     []string
	Columns   []schema.Column
	Conflicts []schema.Conflict
}

// SchemaReport describes the schemas of the loaded files, per table and per
// file, from the file_schemas metadata.
type SchemaReport struct {
	Tables []TableSchema
	Files  []loader.FileSchema
}

func BuildSchemaReport(ctx context.Context, store storage.Store) (SchemaReport, error) {
	files, err := loader.ReadFileSchemas(ctx, store)
	if err != nil {
		return SchemaReport{}, err
	}
	byTable := map[string]*TableSchema{}
	sets := map[string][][]schema.Column{}
	for _, f := range files {
		ts, ok := byTable[f.TableType]
		if !ok {
			ts = &TableSchema{Table: f.TableType}
			byTable[f.TableType] = ts
		}
		ts.Files = append(ts.Files, f.Filename)
		sets[f.TableType] = append(sets[f.TableType], f.Columns)
	}
	report := SchemaReport{Files: files}
	for name, ts := range byTable {
		ts.Columns, ts.Conflicts = schema.Union(sets[name]...)
		report.Tables = append(report.Tables, *ts)
	}
	sort.Slice(report.Tables, func(i, j int) bool { return report.Tables[i].Table < report.Tables[j].Table })
	return report, nil
}
