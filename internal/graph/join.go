package graph

import (
	"context"
	"fmt"
	"time"

	"kgxops/internal/config"
	"kgxops/internal/loader"
	"kgxops/internal/metrics"
	"kgxops/internal/schema"
	"kgxops/internal/storage"

	"go.uber.org/zap"
)

// TableLoad describes what a union did to one live table.
type TableLoad struct {
	Table        string
	Files        int
	Created      bool
	RowsBefore   int64
	RowsAdded    int64
	AddedColumns []schema.Column
	Conflicts    []schema.Conflict
}

// JoinResult reports a join.
type JoinResult struct {
	Summary
	Files []loader.FileResult
	Nodes TableLoad
	Edges TableLoad
	// Dedupe is set when the join deduplicated its output.
	Dedupe *DedupeResult
}

// Join loads node and edge files and unions them by column name into the
// live nodes and edges tables. Existing tables are extended, never replaced.
func (e *Engine) Join(ctx context.Context, cfg config.JoinConfig) (*JoinResult, error) {
	start := time.Now()
	res := &JoinResult{Summary: newSummary(OpJoin)}
	res.FilesProcessed = len(cfg.NodeFiles) + len(cfg.EdgeFiles)
	defer e.finish(ctx, &res.Summary, start)

	issues := config.ValidateJoin(cfg)
	res.Warnings = append(res.Warnings, config.Warnings(issues)...)
	if err := config.Err(issues); err != nil {
		return res, res.fail(err)
	}

	err := e.step(ctx, OpJoin, func(tx storage.Store) error {
		files, loads, err := e.loadGraphFiles(ctx, tx, cfg.Loader, cfg.GenerateProvidedBy, cfg.NodeFiles, cfg.EdgeFiles, &res.Summary)
		res.Files = files
		if err != nil {
			return err
		}
		res.Nodes, res.Edges = loads[storage.TableNodes], loads[storage.TableEdges]
		return nil
	})
	if err != nil {
		return res, res.fail(err)
	}

	if !cfg.PreserveDuplicates {
		d, err := e.Deduplicate(ctx, config.DeduplicateConfig{})
		res.Dedupe = d
		if err != nil {
			return res, res.fail(err)
		}
	}

	res.succeed("loaded %d of %d files: %d nodes, %d edges added",
		loadedFiles(res.Files), len(res.Files), res.Nodes.RowsAdded, res.Edges.RowsAdded)
	return res, nil
}

// loadGraphFiles stages node and edge files and unions every staged table
// into the live table of its record type. Nodes and edges form one batch:
// per-file failures become warnings on s, and only a batch in which no file
// loaded is an error.
func (e *Engine) loadGraphFiles(ctx context.Context, tx storage.Store, lc config.LoaderConfig, providedBy bool,
	nodeFiles, edgeFiles []config.FileSpec, s *Summary) ([]loader.FileResult, map[string]TableLoad, error) {
	l := e.loader(tx, lc, providedBy)

	specs := make([]config.FileSpec, 0, len(nodeFiles)+len(edgeFiles))
	for _, b := range []struct {
		kind  string
		specs []config.FileSpec
	}{
		{config.RecordNodes, nodeFiles},
		{config.RecordEdges, edgeFiles},
	} {
		for _, spec := range b.specs {
			if spec.RecordType == "" {
				spec.RecordType = b.kind
			}
			specs = append(specs, spec)
		}
	}
	files, err := l.Stage(ctx, specs, "")
	if err != nil {
		return files, nil, err
	}
	for _, f := range files {
		if f.Err != nil {
			s.warnf("skipped %s: %v", f.Spec.Path, f.Err)
		}
	}

	loads := map[string]TableLoad{}
	for _, table := range []string{storage.TableNodes, storage.TableEdges} {
		stages := loader.Stages(files, table)
		load := TableLoad{Table: table, Files: len(stages)}
		if len(stages) == 0 {
			loads[table] = load
			continue
		}
		before, err := e.count(ctx, tx, table)
		if err != nil {
			return files, nil, err
		}
		u, err := tx.UnionByName(ctx, table, stages...)
		if err != nil {
			return files, nil, err
		}
		load.Created, load.RowsBefore, load.RowsAdded = u.Created, before, u.Rows
		load.AddedColumns, load.Conflicts = u.AddedColumns, u.Conflicts
		for _, c := range u.Conflicts {
			s.warnf("%s: %s", table, c)
		}
		metrics.RecordRows(e.job, table, u.Rows)
		e.log.Info("table unioned",
			zap.String("table", table),
			zap.Int("files", len(stages)),
			zap.Bool("created", u.Created),
			zap.Int64("rows", u.Rows),
			zap.Int("added_columns", len(u.AddedColumns)))
		loads[table] = load
	}

	if err := l.DropStages(ctx, files); err != nil {
		return files, nil, err
	}
	return files, loads, nil
}

func loadedFiles(files []loader.FileResult) int {
	n := 0
	for _, f := range files {
		if f.OK() {
			n++
		}
	}
	return n
}

func describeColumns(table string, cols []schema.Column) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, fmt.Sprintf("added column %s (%s) to %s", c.Name, c.Type.Materialized(), table))
	}
	return out
}
