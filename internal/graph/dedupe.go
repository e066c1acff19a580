package graph

import (
	"context"
	"time"

	"kgxops/internal/config"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/loader"
	"kgxops/internal/metrics"
	"kgxops/internal/schema"
	"kgxops/internal/storage"

	"go.uber.org/zap"
)

// Tie-break columns for choosing the kept row of a duplicate key. Load
// order breaks any remaining tie.
var dedupeOrder = []string{loader.ColFileSource, loader.ColProvidedBy}

// edgeTripleKey identifies an edge that has no id.
var edgeTripleKey = []string{"subject", "predicate", "object"}

// DedupeCounts reports deduplication of one table.
type DedupeCounts struct {
	Table   string
	Skipped bool

	Before int64
	After  int64
	// DuplicateKeys is the number of keys held by more than one row.
	DuplicateKeys int64
	// Archived counts every row copied to the archive, kept rows included.
	Archived int64
	// Removed counts rows deleted from the live table.
	Removed int64
}

type DedupeResult struct {
	Summary
	Nodes DedupeCounts
	Edges DedupeCounts
}

// Deduplicate keeps one row per key in nodes and edges and archives every
// row of each colliding key.
func (e *Engine) Deduplicate(ctx context.Context, cfg config.DeduplicateConfig) (*DedupeResult, error) {
	start := time.Now()
	res := &DedupeResult{Summary: newSummary(OpDeduplicate)}
	res.Nodes = DedupeCounts{Table: storage.TableNodes, Skipped: cfg.SkipNodes}
	res.Edges = DedupeCounts{Table: storage.TableEdges, Skipped: cfg.SkipEdges}
	defer e.finish(ctx, &res.Summary, start)

	err := e.step(ctx, OpDeduplicate, func(tx storage.Store) error {
		var err error
		if !cfg.SkipNodes {
			if res.Nodes, err = e.dedupeNodes(ctx, tx); err != nil {
				return err
			}
		}
		if !cfg.SkipEdges {
			if res.Edges, err = e.dedupeEdges(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, res.fail(err)
	}
	if !cfg.SkipNodes && res.Nodes.Skipped {
		res.warnf("no %s table to deduplicate", storage.TableNodes)
	}
	if !cfg.SkipEdges && res.Edges.Skipped {
		res.warnf("no %s table to deduplicate", storage.TableEdges)
	}
	res.succeed("removed %d duplicate nodes (%d keys) and %d duplicate edges (%d keys)",
		res.Nodes.Removed, res.Nodes.DuplicateKeys, res.Edges.Removed, res.Edges.DuplicateKeys)
	return res, nil
}

func (e *Engine) dedupeNodes(ctx context.Context, tx storage.Store) (DedupeCounts, error) {
	return e.dedupeTable(ctx, tx, storage.TableNodes, storage.TableDuplicateNodes,
		func([]schema.Column) ([]string, []string) { return []string{"id"}, nil })
}

// dedupeEdges keys edges by id, falling back to the subject, predicate and
// object triple for rows without one.
func (e *Engine) dedupeEdges(ctx context.Context, tx storage.Store) (DedupeCounts, error) {
	return e.dedupeTable(ctx, tx, storage.TableEdges, storage.TableDuplicateEdges,
		func(cols []schema.Column) ([]string, []string) {
			if schema.Has(cols, "id") {
				return []string{"id"}, edgeTripleKey
			}
			return edgeTripleKey, nil
		})
}

func (e *Engine) dedupeTable(ctx context.Context, tx storage.Store, table, archive string,
	keys func([]schema.Column) (key, fallback []string)) (DedupeCounts, error) {
	counts := DedupeCounts{Table: table}
	ok, err := e.hasTable(ctx, tx, table)
	if err != nil {
		return counts, err
	}
	if !ok {
		counts.Skipped = true
		return counts, nil
	}
	cols, err := tx.Columns(ctx, table)
	if err != nil {
		return counts, err
	}
	if counts.Before, err = tx.Count(ctx, table); err != nil {
		return counts, err
	}

	key, fallback := keys(cols)
	g, err := tx.GroupFirst(ctx, storage.GroupFirst{
		Table:       table,
		Archive:     archive,
		Key:         key,
		FallbackKey: fallback,
		OrderBy:     dedupeOrder,
	})
	if err != nil {
		return counts, err
	}
	counts.DuplicateKeys, counts.Archived, counts.Removed = g.Keys, g.Archived, g.Removed

	if counts.After, err = tx.Count(ctx, table); err != nil {
		return counts, err
	}
	if counts.After+counts.Removed != counts.Before {
		return counts, kgxerr.New(kgxerr.CodeIntegrityViolation, "deduplication lost rows",
			kgxerr.FieldTable(table), kgxerr.Field("before", counts.Before),
			kgxerr.Field("after", counts.After), kgxerr.Field("removed", counts.Removed))
	}

	metrics.RecordRows(e.job, "archived_duplicates", counts.Archived)
	e.log.Info("table deduplicated",
		zap.String("table", table),
		zap.Strings("key", key),
		zap.Int64("duplicate_keys", counts.DuplicateKeys),
		zap.Int64("archived", counts.Archived),
		zap.Int64("removed", counts.Removed))
	return counts, nil
}
