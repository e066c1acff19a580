// Package loader turns input files into staging tables.
//
// Files are parsed concurrently; staging tables are then written one file at
// a time, in the order the files were given, so that insertion order inside
// every later union follows the caller's file order. Per-file failures are
// collected in the results and only become an error when no file loaded.
package loader

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"kgxops/internal/config"
	"kgxops/internal/datasource"
	"kgxops/internal/datasource/file"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/metrics"
	"kgxops/internal/parser"
	"kgxops/internal/parser/jsonl"
	"kgxops/internal/parser/parquet"
	"kgxops/internal/parser/tsv"
	"kgxops/internal/schema"
	"kgxops/internal/storage"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Provenance and bookkeeping columns injected by the loader.
const (
	ColFileSource       = "file_source"
	ColProvidedBy       = "provided_by"
	ColMappingSource    = "mapping_source"
	ColMappingFileIndex = "mapping_file_index"
)

// RequiredColumns lists the columns each record type must carry.
var RequiredColumns = map[string][]string{
	config.RecordNodes:    {"id"},
	config.RecordEdges:    {"subject", "predicate", "object"},
	config.RecordMappings: {"subject_id", "predicate_id", "object_id", "mapping_justification"},
}

// Options configures a Loader.
type Options struct {
	Config config.LoaderConfig

	// GenerateProvidedBy adds provided_by from the source name to files
	// that lack it.
	GenerateProvidedBy bool

	// Source resolves a path to its byte source. Nil opens local files.
	Source func(path string) datasource.Source

	// Job labels metrics.
	Job    string
	Logger *zap.Logger
}

// Loader stages files into a store.
type Loader struct {
	store storage.Store
	opts  Options
	mv    schema.Multivalued
	log   *zap.Logger
}

func New(store storage.Store, opts Options) *Loader {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		store: store,
		opts:  opts,
		mv:    schema.NewMultivalued(opts.Config.Multivalued, nil, opts.Config.SingleValued),
		log:   log.With(zap.String("component", "loader")),
	}
}

func (l *Loader) source(path string) datasource.Source {
	if l.opts.Source != nil {
		return l.opts.Source(path)
	}
	return file.NewLocal(path)
}

// FileResult describes one input file.
type FileResult struct {
	Spec       config.FileSpec
	Format     file.Format
	RecordType string
	SourceName string

	// Records is the number of rows staged.
	Records int64
	// Columns are the file's own columns, before provenance injection.
	Columns []schema.Column
	// Stage is the staging table holding the rows.
	Stage string

	Elapsed time.Duration
	Err     error
}

// OK reports whether the file was staged.
func (r FileResult) OK() bool { return r.Err == nil && r.Stage != "" }

type parsed struct {
	res   FileResult
	table *parser.Table
}

// Stage loads specs as recordType (or as each spec declares) into staging
// tables. The returned slice is aligned with specs. The error is non-nil
// only when specs is non-empty and no file loaded, or when staging itself
// fails against the store.
func (l *Loader) Stage(ctx context.Context, specs []config.FileSpec, recordType string) ([]FileResult, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	files := make([]parsed, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	workers := l.opts.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i, spec := range specs {
		g.Go(func() error {
			files[i] = l.parse(gctx, i, spec, recordType)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]FileResult, len(specs))
	var (
		loaded int
		errs   []error
	)
	for i := range files {
		p := &files[i]
		if p.res.Err == nil {
			if err := l.stage(ctx, i, p); err != nil {
				return nil, err
			}
			loaded++
			metrics.RecordFile(l.opts.Job, "loaded")
			metrics.RecordRows(l.opts.Job, "loaded", p.res.Records)
			l.log.Info("file staged",
				zap.String("path", p.res.Spec.Path),
				zap.String("format", string(p.res.Format)),
				zap.String("record_type", p.res.RecordType),
				zap.Int64("records", p.res.Records),
				zap.Duration("elapsed", p.res.Elapsed))
		} else {
			errs = append(errs, p.res.Err)
			metrics.RecordFile(l.opts.Job, "failed")
			l.log.Warn("file skipped", zap.String("path", p.res.Spec.Path), zap.Error(p.res.Err))
		}
		results[i] = p.res
		p.table = nil
	}

	if loaded == 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return results, kgxerr.New(kgxerr.CodeInputNoneLoaded,
			fmt.Sprintf("none of %d %sfiles could be loaded: %s", len(specs), kindLabel(recordType), strings.Join(msgs, "; ")),
			kgxerr.Field("files", len(specs)))
	}
	return results, nil
}

func kindLabel(recordType string) string {
	if recordType == "" {
		return ""
	}
	return recordType + " "
}

func (l *Loader) parse(ctx context.Context, index int, spec config.FileSpec, recordType string) parsed {
	start := time.Now()
	res := FileResult{Spec: spec, RecordType: recordType}
	fail := func(err error) parsed {
		res.Err = err
		res.Elapsed = time.Since(start)
		return parsed{res: res}
	}

	if spec.RecordType != "" {
		res.RecordType = spec.RecordType
	}
	if res.RecordType == "" {
		res.RecordType = file.RecordKind(spec.Path)
	}
	if _, ok := RequiredColumns[res.RecordType]; !ok {
		return fail(kgxerr.New(kgxerr.CodeInputFileMalformed, "cannot tell whether file holds nodes or edges",
			kgxerr.FieldPath(spec.Path)))
	}

	var err error
	if spec.Format != "" {
		res.Format, err = file.ParseFormat(spec.Format)
	} else {
		res.Format, err = file.DetectFormat(spec.Path)
	}
	if err != nil {
		return fail(kgxerr.Wrap(err, kgxerr.CodeInputFileMalformed, "unknown file format", kgxerr.FieldPath(spec.Path)))
	}

	res.SourceName = spec.SourceName
	if res.SourceName == "" {
		res.SourceName = file.Stem(spec.Path)
	}

	rc, err := l.source(spec.Path).Open(ctx)
	if err != nil {
		return fail(kgxerr.Wrap(err, kgxerr.CodeInputFileUnreadable, "open input file", kgxerr.FieldPath(spec.Path)))
	}
	defer rc.Close()

	tbl, err := l.parser(res.Format).Parse(ctx, rc)
	if err != nil {
		if kgxerr.CodeOf(err) == "" {
			err = kgxerr.Wrap(err, kgxerr.CodeInputFileMalformed, "parse input file")
		}
		return fail(kgxerr.Wrap(err, kgxerr.CodeOf(err), "load "+spec.Path, kgxerr.FieldPath(spec.Path)))
	}

	if missing := missingColumns(tbl.Columns, RequiredColumns[res.RecordType]); len(missing) > 0 {
		return fail(kgxerr.New(kgxerr.CodeInputColumnsMissing,
			fmt.Sprintf("%s file lacks required columns %v", res.RecordType, missing),
			kgxerr.FieldPath(spec.Path), kgxerr.Field("missing", missing)))
	}

	res.Columns = append([]schema.Column(nil), tbl.Columns...)
	l.inject(tbl, res, index)
	res.Records = int64(len(tbl.Rows))
	res.Elapsed = time.Since(start)
	return parsed{res: res, table: tbl}
}

func (l *Loader) parser(f file.Format) parser.Parser {
	opts := parser.Options{
		ListDelimiter: l.opts.Config.ListDelimiter,
		Multivalued:   l.mv,
		Types:         l.opts.Config.Types(),
	}
	switch f {
	case file.CSV:
		opts.Comma = ','
		return tsv.New(opts)
	case file.JSONL:
		return jsonl.New(opts)
	case file.Parquet:
		return parquet.New(opts)
	default:
		return tsv.New(opts)
	}
}

// inject adds provenance columns. file_source always reflects the source
// name, replacing any value the file carried.
func (l *Loader) inject(tbl *parser.Table, res FileResult, index int) {
	if res.RecordType == config.RecordMappings {
		setColumn(tbl, schema.Column{Name: ColMappingSource, Type: schema.String}, res.SourceName)
		setColumn(tbl, schema.Column{Name: ColMappingFileIndex, Type: schema.Integer}, int64(index))
		return
	}
	setColumn(tbl, schema.Column{Name: ColFileSource, Type: schema.String}, res.SourceName)
	if l.opts.GenerateProvidedBy && !schema.Has(tbl.Columns, ColProvidedBy) {
		if l.mv.IsArray(ColProvidedBy) {
			setColumn(tbl, schema.Column{Name: ColProvidedBy, Type: schema.StringArray}, []string{res.SourceName})
		} else {
			setColumn(tbl, schema.Column{Name: ColProvidedBy, Type: schema.String}, res.SourceName)
		}
	}
}

func setColumn(tbl *parser.Table, col schema.Column, v any) {
	idx := -1
	for i, c := range tbl.Columns {
		if c.Name == col.Name {
			idx = i
			tbl.Columns[i].Type = col.Type
			break
		}
	}
	if idx < 0 {
		idx = len(tbl.Columns)
		tbl.Columns = append(tbl.Columns, col)
		for i := range tbl.Rows {
			tbl.Rows[i] = append(tbl.Rows[i], nil)
		}
	}
	for _, row := range tbl.Rows {
		row[idx] = v
	}
}

func missingColumns(cols []schema.Column, required []string) []string {
	var out []string
	for _, r := range required {
		if !schema.Has(cols, r) {
			out = append(out, r)
		}
	}
	return out
}

// StageName derives a stable staging table name for the index-th file.
func StageName(recordType string, index int, path string) string {
	return fmt.Sprintf("_stage_%s_%016x", recordType, xxh3.HashString(fmt.Sprintf("%d|%s", index, path)))
}

func (l *Loader) stage(ctx context.Context, index int, p *parsed) error {
	name := StageName(p.res.RecordType, index, p.res.Spec.Path)
	cols := p.table.Columns
	if len(cols) == 0 {
		return nil
	}
	if err := l.store.DropTable(ctx, name); err != nil {
		return err
	}
	if err := l.store.CreateTable(ctx, name, cols); err != nil {
		return err
	}
	if _, err := l.store.Insert(ctx, name, schema.Names(cols), p.table.Rows); err != nil {
		return err
	}
	if err := l.recordSchema(ctx, p.res); err != nil {
		return err
	}
	p.res.Stage = name
	return nil
}

// DropStages removes the staging tables of results.
func (l *Loader) DropStages(ctx context.Context, results []FileResult) error {
	for _, r := range results {
		if r.Stage == "" {
			continue
		}
		if err := l.store.DropTable(ctx, r.Stage); err != nil {
			return err
		}
	}
	return nil
}

// Stages returns the staging tables of the loaded results in file order,
// limited to recordType when it is not empty.
func Stages(results []FileResult, recordType string) []string {
	var out []string
	for _, r := range results {
		if r.OK() && (recordType == "" || r.RecordType == recordType) {
			out = append(out, r.Stage)
		}
	}
	return out
}
