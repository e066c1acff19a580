package graph

import (
	"context"
	"time"

	"kgxops/internal/config"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/loader"
	"kgxops/internal/metrics"
	"kgxops/internal/storage"

	"go.uber.org/zap"
)

// ColMissingEndpoint tags archived dangling edges with the endpoints that
// did not resolve: "subject", "object" or "subject,object".
const ColMissingEndpoint = "missing_endpoint"

// PruneResult reports a prune.
type PruneResult struct {
	Summary

	DanglingEdges int64
	// DanglingBySource counts dangling edges per file_source.
	DanglingBySource map[string]int64
	// MissingNodesBySource counts distinct unresolved node ids per
	// file_source.
	MissingNodesBySource map[string]int64

	Singletons config.SingletonPolicy
	// SingletonNodes counts nodes without incident edges.
	SingletonNodes     int64
	SingletonsArchived int64
	SingletonsKept     int64

	Components ComponentResult
}

// Prune archives dangling edges, then handles singleton nodes by policy and
// finally archives components smaller than MinComponentSize.
func (e *Engine) Prune(ctx context.Context, cfg config.PruneConfig) (*PruneResult, error) {
	start := time.Now()
	res := &PruneResult{Summary: newSummary(OpPrune), Singletons: cfg.Singletons}
	defer e.finish(ctx, &res.Summary, start)

	issues := config.ValidatePrune(cfg)
	res.Warnings = append(res.Warnings, config.Warnings(issues)...)
	if err := config.Err(issues); err != nil {
		return res, res.fail(err)
	}

	err := e.step(ctx, OpPrune, func(tx storage.Store) error {
		hasNodes, err := e.hasTable(ctx, tx, storage.TableNodes)
		if err != nil {
			return err
		}
		hasEdges, err := e.hasTable(ctx, tx, storage.TableEdges)
		if err != nil {
			return err
		}
		if !hasNodes && !hasEdges {
			return kgxerr.New(kgxerr.CodeStoreTableNotFound, "store has no nodes or edges table")
		}
		if hasEdges {
			if err := e.pruneDangling(ctx, tx, res); err != nil {
				return err
			}
		}
		if hasNodes {
			if err := e.pruneSingletons(ctx, tx, cfg.Singletons, hasEdges, res); err != nil {
				return err
			}
		}
		if cfg.MinComponentSize > 1 && hasNodes && hasEdges {
			if res.Components, err = e.pruneComponents(ctx, tx, cfg.MinComponentSize); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, res.fail(err)
	}
	res.succeed("archived %d dangling edges; %d singleton nodes (%d archived, %d kept)",
		res.DanglingEdges, res.SingletonNodes, res.SingletonsArchived, res.SingletonsKept)
	return res, nil
}

// pruneDangling moves edges whose subject or object is not a live node id
// into dangling_edges. A null endpoint counts as unresolved.
func (e *Engine) pruneDangling(ctx context.Context, tx storage.Store, res *PruneResult) error {
	aj, err := tx.AntiJoin(ctx, storage.AntiJoin{
		Table:   storage.TableEdges,
		Archive: storage.TableDanglingEdges,
		Probes: []storage.Probe{
			{Name: "subject", Column: "subject", RefTable: storage.TableNodes, RefColumn: "id"},
			{Name: "object", Column: "object", RefTable: storage.TableNodes, RefColumn: "id"},
		},
		Mode:      storage.AnyUnmatched,
		TagColumn: ColMissingEndpoint,
		GroupBy:   loader.ColFileSource,
	})
	if err != nil {
		return err
	}
	res.DanglingEdges = aj.Moved
	res.DanglingBySource, res.MissingNodesBySource = aj.ByGroup, aj.MissingByGroup
	metrics.RecordRows(e.job, "dangling_edges", aj.Moved)
	e.log.Info("dangling edges archived",
		zap.Int64("edges", aj.Moved),
		zap.Any("by_source", aj.ByGroup),
		zap.Any("missing_nodes_by_source", aj.MissingByGroup))
	return nil
}

// pruneSingletons finds nodes whose id is neither a subject nor an object
// of a live edge. Without an edges table every node is a singleton.
func (e *Engine) pruneSingletons(ctx context.Context, tx storage.Store, policy config.SingletonPolicy, hasEdges bool, res *PruneResult) error {
	spec := storage.AntiJoin{
		Table:   storage.TableNodes,
		Archive: storage.TableSingletonNodes,
		Probes: []storage.Probe{
			{Name: "subject", Column: "id", RefTable: storage.TableEdges, RefColumn: "subject"},
			{Name: "object", Column: "id", RefTable: storage.TableEdges, RefColumn: "object"},
		},
		Mode:      storage.AllUnmatched,
		CountOnly: policy == config.KeepSingletons,
	}
	if !hasEdges {
		res.warnf("no %s table; every node is a singleton", storage.TableEdges)
	}
	aj, err := tx.AntiJoin(ctx, spec)
	if err != nil {
		return err
	}
	res.SingletonNodes = aj.Moved
	if spec.CountOnly {
		res.SingletonsKept = aj.Moved
	} else {
		res.SingletonsArchived = aj.Moved
		metrics.RecordRows(e.job, "singleton_nodes", aj.Moved)
	}
	e.log.Info("singleton nodes",
		zap.String("policy", policy.String()),
		zap.Int64("singletons", aj.Moved))
	return nil
}
