package loader

import (
	"context"

	"kgxops/internal/schema"
	"kgxops/internal/storage"
)

var fileSchemaColumns = []schema.Column{
	{Name: "filename", Type: schema.String},
	{Name: "table_type", Type: schema.String},
	{Name: "column_name", Type: schema.String},
	{Name: "data_type", Type: schema.String},
	{Name: "file_source", Type: schema.String},
}

// recordSchema appends one file_schemas row per column of the file.
func (l *Loader) recordSchema(ctx context.Context, res FileResult) error {
	ok, err := l.store.HasTable(ctx, storage.TableFileSchemas)
	if err != nil {
		return err
	}
	if !ok {
		if err := l.store.CreateTable(ctx, storage.TableFileSchemas, fileSchemaColumns); err != nil {
			return err
		}
	}
	rows := make([][]any, 0, len(res.Columns))
	for _, c := range res.Columns {
		rows = append(rows, []any{res.Spec.Path, res.RecordType, c.Name, string(c.Type.Materialized()), res.SourceName})
	}
	_, err = l.store.Insert(ctx, storage.TableFileSchemas, schema.Names(fileSchemaColumns), rows)
	return err
}

// FileSchema is the recorded column list of one loaded file.
type FileSchema struct {
	Filename   string
	TableType  string
	FileSource string
	Columns    []schema.Column
}

// ReadFileSchemas returns the recorded schemas in load order. A store
// without metadata yields none.
func ReadFileSchemas(ctx context.Context, store storage.Store) ([]FileSchema, error) {
	ok, err := store.HasTable(ctx, storage.TableFileSchemas)
	if err != nil || !ok {
		return nil, err
	}
	var (
		out   []FileSchema
		index = map[[2]string]int{}
	)
	err = store.Scan(ctx, storage.TableFileSchemas, nil, func(r storage.Row) error {
		name, _ := r["filename"].(string)
		tt, _ := r["table_type"].(string)
		src, _ := r["file_source"].(string)
		col, _ := r["column_name"].(string)
		dt, _ := r["data_type"].(string)
		key := [2]string{name, tt}
		i, seen := index[key]
		if !seen {
			i = len(out)
			index[key] = i
			out = append(out, FileSchema{Filename: name, TableType: tt, FileSource: src})
		}
		t, perr := schema.ParseType(dt)
		if perr != nil {
			t = schema.String
		}
		out[i].Columns = append(out[i].Columns, schema.Column{Name: col, Type: t})
		return nil
	})
	return out, err
}
