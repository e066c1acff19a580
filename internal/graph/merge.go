package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kgxops/internal/config"

	"go.uber.org/zap"
)

// MergeResult aggregates the steps of a merge.
type MergeResult struct {
	Summary
	Join      *JoinResult
	Dedupe    *DedupeResult
	Normalize *NormalizeResult
	Prune     *PruneResult

	Completed []string
	Skipped   []string
	// Failed lists steps that failed while ContinueOnStepError was set.
	Failed []string
}

// Merge runs join, deduplicate, normalize and prune in that order. Join must
// succeed. A later step that fails aborts the merge unless
// ContinueOnStepError is set, in which case the failure becomes a warning
// and the next step runs on the store as the last successful step left it.
func (e *Engine) Merge(ctx context.Context, cfg config.MergeConfig) (*MergeResult, error) {
	start := time.Now()
	res := &MergeResult{Summary: newSummary(OpMerge)}
	res.FilesProcessed = len(cfg.NodeFiles) + len(cfg.EdgeFiles) + len(cfg.MappingFiles)
	defer e.finish(ctx, &res.Summary, start)

	issues := config.ValidateMerge(cfg)
	res.Warnings = append(res.Warnings, config.Warnings(issues)...)
	if err := config.Err(issues); err != nil {
		return res, res.fail(err)
	}

	var err error
	res.Join, err = e.Join(ctx, cfg.Join())
	if res.Join != nil {
		res.Warnings = append(res.Warnings, res.Join.Warnings...)
	}
	if err != nil {
		return res, res.fail(fmt.Errorf("join: %w", err))
	}
	res.Completed = append(res.Completed, OpJoin)

	steps := []struct {
		name string
		skip bool
		run  func() (*Summary, error)
	}{
		{OpDeduplicate, cfg.SkipDeduplicate, func() (*Summary, error) {
			r, err := e.Deduplicate(ctx, config.DeduplicateConfig{})
			res.Dedupe = r
			return &r.Summary, err
		}},
		{OpNormalize, cfg.SkipNormalize, func() (*Summary, error) {
			r, err := e.Normalize(ctx, cfg.Normalize())
			res.Normalize = r
			return &r.Summary, err
		}},
		{OpPrune, cfg.SkipPrune, func() (*Summary, error) {
			r, err := e.Prune(ctx, cfg.Prune())
			res.Prune = r
			return &r.Summary, err
		}},
	}
	for _, s := range steps {
		if s.skip {
			res.Skipped = append(res.Skipped, s.name)
			continue
		}
		sum, err := s.run()
		res.Warnings = append(res.Warnings, sum.Warnings...)
		if err == nil {
			res.Completed = append(res.Completed, s.name)
			continue
		}
		if !cfg.ContinueOnStepError {
			return res, res.fail(fmt.Errorf("%s: %w", s.name, err))
		}
		res.Failed = append(res.Failed, s.name)
		res.warnf("%s failed, pipeline continued: %v", s.name, err)
		e.log.Warn("merge step failed, continuing", zap.String("step", s.name), zap.Error(err))
	}

	msg := "pipeline completed: " + strings.Join(res.Completed, " -> ")
	if len(res.Skipped) > 0 {
		msg += " (skipped: " + strings.Join(res.Skipped, ", ") + ")"
	}
	if len(res.Failed) > 0 {
		msg += " (failed: " + strings.Join(res.Failed, ", ") + ")"
	}
	res.succeed("%s", msg)
	return res, nil
}
