package graph

import (
	"context"
	"time"

	"kgxops/internal/config"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/loader"
	"kgxops/internal/storage"
)

// AppendResult reports an append.
type AppendResult struct {
	Summary
	Files []loader.FileResult
	Nodes TableLoad
	Edges TableLoad

	RecordsAdded    int64
	NewColumnsAdded int
	// SchemaChanges describes each added column, e.g.
	// "added column confidence (float) to edges".
	SchemaChanges []string

	// Dedupe is set when the append deduplicated afterwards.
	Dedupe *DedupeResult
}

// Append loads files into an existing store. New columns are added to the
// live tables with nulls for existing rows; existing columns keep their
// types and values, so a type conflict only yields a warning and incoming
// values are converted to the live column's type.
func (e *Engine) Append(ctx context.Context, cfg config.AppendConfig) (*AppendResult, error) {
	start := time.Now()
	res := &AppendResult{Summary: newSummary(OpAppend)}
	res.FilesProcessed = len(cfg.NodeFiles) + len(cfg.EdgeFiles)
	defer e.finish(ctx, &res.Summary, start)

	issues := config.ValidateAppend(cfg)
	res.Warnings = append(res.Warnings, config.Warnings(issues)...)
	if err := config.Err(issues); err != nil {
		return res, res.fail(err)
	}
	if err := e.requireGraph(ctx); err != nil {
		return res, res.fail(err)
	}

	err := e.step(ctx, OpAppend, func(tx storage.Store) error {
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

	for _, l := range []TableLoad{res.Nodes, res.Edges} {
		res.RecordsAdded += l.RowsAdded
		if l.Created {
			res.SchemaChanges = append(res.SchemaChanges, "created table "+l.Table)
			continue
		}
		res.NewColumnsAdded += len(l.AddedColumns)
		res.SchemaChanges = append(res.SchemaChanges, describeColumns(l.Table, l.AddedColumns)...)
	}

	if cfg.Deduplicate {
		d, err := e.Deduplicate(ctx, config.DeduplicateConfig{})
		res.Dedupe = d
		if err != nil {
			return res, res.fail(err)
		}
	}

	res.succeed("appended %d records from %d files; %d new columns",
		res.RecordsAdded, loadedFiles(res.Files), res.NewColumnsAdded)
	return res, nil
}

// requireGraph fails unless the store already holds nodes or edges.
func (e *Engine) requireGraph(ctx context.Context) error {
	for _, t := range []string{storage.TableNodes, storage.TableEdges} {
		ok, err := e.hasTable(ctx, e.store, t)
		if err != nil || ok {
			return err
		}
	}
	return kgxerr.New(kgxerr.CodeConfigValidateInvalidValue,
		"append needs a store that already has a nodes or edges table")
}
