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

// NormalizeResult reports a normalization run.
type NormalizeResult struct {
	Summary
	Files []loader.FileResult

	// Mappings is the number of mapping rows used, one per object_id.
	Mappings int64
	// DuplicateMappings counts mapping rows discarded for sharing an
	// object_id with an earlier one.
	DuplicateMappings int64

	EdgesBefore int64
	EdgesAfter  int64
	// EdgesNormalized counts edges with at least one rewritten endpoint.
	EdgesNormalized    int64
	SubjectsNormalized int64
	ObjectsNormalized  int64
}

// Normalize loads SSSOM mapping files into the mappings table and rewrites
// edge subjects and objects found among the mappings' object_id values to
// the matching subject_id. The value before the first rewrite is kept in
// original_subject and original_object.
//
// The mappings table is rebuilt from the given files on every run.
// Rewrites start from the current endpoint values, so running again with
// the same mappings changes nothing unless the mappings chain.
func (e *Engine) Normalize(ctx context.Context, cfg config.NormalizeConfig) (*NormalizeResult, error) {
	start := time.Now()
	res := &NormalizeResult{Summary: newSummary(OpNormalize)}
	res.FilesProcessed = len(cfg.MappingFiles)
	defer e.finish(ctx, &res.Summary, start)

	issues := config.ValidateNormalize(cfg)
	res.Warnings = append(res.Warnings, config.Warnings(issues)...)
	if err := config.Err(issues); err != nil {
		return res, res.fail(err)
	}

	err := e.step(ctx, OpNormalize, func(tx storage.Store) error {
		if err := e.loadMappings(ctx, tx, cfg, res); err != nil {
			return err
		}
		ok, err := e.hasTable(ctx, tx, storage.TableEdges)
		if err != nil {
			return err
		}
		if !ok {
			res.warnf("no %s table to normalize", storage.TableEdges)
			return nil
		}
		return e.remapEdges(ctx, tx, res)
	})
	if err != nil {
		return res, res.fail(err)
	}
	res.succeed("applied %d mappings from %d files, normalized %d edges (%d subjects, %d objects)",
		res.Mappings, loadedFiles(res.Files), res.EdgesNormalized, res.SubjectsNormalized, res.ObjectsNormalized)
	return res, nil
}

// loadMappings rebuilds the mappings table with at most one row per
// object_id. Among rows sharing an object_id the first by file order, then
// subject_id, wins; the others go to duplicate_mappings.
func (e *Engine) loadMappings(ctx context.Context, tx storage.Store, cfg config.NormalizeConfig, res *NormalizeResult) error {
	l := e.loader(tx, cfg.Loader, false)
	files, err := l.Stage(ctx, cfg.MappingFiles, config.RecordMappings)
	res.Files = files
	if err != nil {
		return err
	}
	var stages []string
	for _, f := range files {
		switch {
		case f.Err != nil:
			res.warnf("skipped %s: %v", f.Spec.Path, f.Err)
		case f.RecordType != config.RecordMappings:
			res.warnf("skipped %s: %s file given as mappings", f.Spec.Path, f.RecordType)
		default:
			stages = append(stages, f.Stage)
		}
	}
	if len(stages) == 0 {
		return kgxerr.New(kgxerr.CodeInputNoneLoaded, "no mapping files loaded")
	}

	if err := tx.DropTable(ctx, storage.TableMappings); err != nil {
		return err
	}
	if _, err := tx.UnionByName(ctx, storage.TableMappings, stages...); err != nil {
		return err
	}
	if err := l.DropStages(ctx, files); err != nil {
		return err
	}

	g, err := tx.GroupFirst(ctx, storage.GroupFirst{
		Table:   storage.TableMappings,
		Archive: storage.TableDuplicateMappings,
		Key:     []string{"object_id"},
		OrderBy: []string{loader.ColMappingFileIndex, "subject_id"},
	})
	if err != nil {
		return err
	}
	res.DuplicateMappings = g.Removed
	if g.Removed > 0 {
		res.warnf("discarded %d duplicate mappings across %d object_id values", g.Removed, g.Keys)
	}
	if res.Mappings, err = tx.Count(ctx, storage.TableMappings); err != nil {
		return err
	}
	e.log.Info("mappings loaded",
		zap.Int("files", len(stages)),
		zap.Int64("mappings", res.Mappings),
		zap.Int64("discarded", g.Removed))
	return nil
}

func (e *Engine) remapEdges(ctx context.Context, tx storage.Store, res *NormalizeResult) error {
	var err error
	if res.EdgesBefore, err = tx.Count(ctx, storage.TableEdges); err != nil {
		return err
	}
	r, err := tx.Remap(ctx, storage.Remap{
		Table:       storage.TableEdges,
		Columns:     []string{"subject", "object"},
		Lookup:      storage.TableMappings,
		LookupKey:   "object_id",
		LookupValue: "subject_id",
		Preserve:    true,
	})
	if err != nil {
		return err
	}
	res.EdgesNormalized = r.Rows
	res.SubjectsNormalized, res.ObjectsNormalized = r.ByColumn["subject"], r.ByColumn["object"]

	if res.EdgesAfter, err = tx.Count(ctx, storage.TableEdges); err != nil {
		return err
	}
	if res.EdgesAfter != res.EdgesBefore {
		return kgxerr.New(kgxerr.CodeIntegrityViolation, "normalization changed the edge count",
			kgxerr.Field("before", res.EdgesBefore), kgxerr.Field("after", res.EdgesAfter))
	}
	metrics.RecordRows(e.job, "normalized_edges", r.Rows)
	e.log.Info("edges normalized",
		zap.Int64("edges", r.Rows),
		zap.Int64("subjects", res.SubjectsNormalized),
		zap.Int64("objects", res.ObjectsNormalized))
	return nil
}
